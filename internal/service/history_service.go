package service

import (
	"context"

	"pantry-service/internal/apperr"
	"pantry-service/internal/entity"
	"pantry-service/internal/repository"
)

// TransactionDetail is a transaction record together with its lines.
type TransactionDetail struct {
	*entity.TransactionRecord
	Lines []entity.TransactionLine `json:"lines"`
}

// HistoryService reads the append-only transaction and order history.
type HistoryService struct {
	store repository.Store
}

func NewHistoryService(store repository.Store) *HistoryService {
	return &HistoryService{store: store}
}

// ListOrders returns orders newest first: those of callerID when mine is
// set, otherwise every order.
func (h *HistoryService) ListOrders(ctx context.Context, callerID string, mine bool) ([]*entity.Order, error) {
	filter := ""
	if mine {
		if callerID == "" {
			return nil, apperr.Validation("user_id is required")
		}
		filter = callerID
	}
	orders, err := h.store.ListOrders(ctx, filter)
	if err != nil {
		logger.Error().Err(err).Msg("Error listing orders")
		return nil, err
	}
	if orders == nil {
		orders = []*entity.Order{}
	}
	return orders, nil
}

func (h *HistoryService) GetTransaction(ctx context.Context, transactionID string) (*TransactionDetail, error) {
	record, lines, err := h.store.GetTransaction(ctx, transactionID)
	if err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			logger.Error().Err(err).Msgf("Error getting transaction %s", transactionID)
		}
		return nil, err
	}
	return &TransactionDetail{TransactionRecord: record, Lines: lines}, nil
}
