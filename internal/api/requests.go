package api

import (
	"pantry-service/internal/apperr"
	"pantry-service/internal/entity"
	"pantry-service/internal/service"
)

// cartLinesRequest accepts either a list of lines or a single line.
type cartLinesRequest struct {
	Items    []service.StockLine `json:"items"`
	ItemID   string              `json:"item_id"`
	Quantity int                 `json:"quantity"`
}

func (r *cartLinesRequest) Lines() []service.StockLine {
	if len(r.Items) > 0 {
		return r.Items
	}
	return []service.StockLine{{ItemID: r.ItemID, Quantity: r.Quantity}}
}

func (r *cartLinesRequest) Validate() error {
	for _, line := range r.Lines() {
		if line.ItemID == "" {
			return apperr.Validation("item_id is required")
		}
		if line.Quantity < 1 {
			return apperr.Validation("quantity for item %s must be at least 1", line.ItemID)
		}
	}
	return nil
}

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (r *quantityRequest) Validate() error {
	if r.Quantity == nil {
		return apperr.Validation("quantity is required")
	}
	return nil
}

type restockRequest struct {
	Items []service.RestockLine `json:"items"`
}

func (r *restockRequest) Validate() error {
	if len(r.Items) == 0 {
		return apperr.Validation("at least one item is required")
	}
	for _, line := range r.Items {
		if line.ItemID == "" {
			return apperr.Validation("item_id is required")
		}
		if line.Quantity < 1 {
			return apperr.Validation("quantity for item %s must be at least 1", line.ItemID)
		}
	}
	return nil
}

type withdrawRequest struct {
	UserID   string `json:"user_id"`
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

func (r *withdrawRequest) Validate() error {
	switch {
	case r.ItemID == "":
		return apperr.Validation("item_id is required")
	case r.Quantity < 1:
		return apperr.Validation("quantity must be at least 1")
	}
	return nil
}

type validateRequest struct {
	Type  entity.TransactionType `json:"type"`
	Items []service.StockLine    `json:"items"`
}

func (r *validateRequest) Validate() error {
	if r.Type == "" {
		r.Type = entity.TransactionWithdrawal
	}
	if r.Type != entity.TransactionWithdrawal && r.Type != entity.TransactionRestock {
		return apperr.Validation("type must be %q or %q", entity.TransactionWithdrawal, entity.TransactionRestock)
	}
	if len(r.Items) == 0 {
		return apperr.Validation("at least one item is required")
	}
	return nil
}

type createItemRequest struct {
	service.NewItem
	DemandScore *float64 `json:"demand_score"`
}

func (r *createItemRequest) Validate() error {
	if r.DemandScore != nil {
		return apperr.Validation("demand_score is maintained by analytics and cannot be set")
	}
	if r.ItemID == "" {
		return apperr.Validation("item_id is required")
	}
	if r.Name == "" {
		return apperr.Validation("name is required")
	}
	if r.OpeningStock < 0 {
		return apperr.Validation("current_stock must not be negative")
	}
	return nil
}

// protectedFields may only change through stock batches or analytics.
var protectedFields = []string{"current_stock", "demand_score", "last_restocked", "item_id"}
