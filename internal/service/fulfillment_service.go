package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pantry-service/internal/apperr"
	"pantry-service/internal/entity"
	"pantry-service/internal/repository"
)

// EventPublisher receives a StockEvent after every committed batch.
type EventPublisher interface {
	PublishStockEvent(ctx context.Context, event *entity.StockEvent) error
}

// RestockLine is one line of an administrative restock batch. Name,
// Category and Threshold are only used when the item has to be created.
type RestockLine struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Quantity  int    `json:"quantity"`
	Threshold *int   `json:"threshold,omitempty"`
}

// NewItem describes an item created through the inventory endpoint.
type NewItem struct {
	ItemID       string `json:"item_id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Threshold    *int   `json:"threshold,omitempty"`
	OpeningStock int    `json:"current_stock"`
}

type CheckoutResult struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
}

type RestockResult struct {
	TransactionID string         `json:"transaction_id"`
	Items         []*entity.Item `json:"items"`
}

type WithdrawResult struct {
	TransactionID string       `json:"transaction_id"`
	Item          *entity.Item `json:"item"`
}

// FulfillmentService is the only writer of stock levels and history. Every
// entry point commits all of its writes or none of them.
type FulfillmentService struct {
	ledger    *LedgerService
	carts     *CartService
	store     repository.Store
	publisher EventPublisher
	now       func() time.Time
	newSuffix func() string
}

type Option func(*FulfillmentService)

// WithClock overrides the clock used for transaction dates and ids.
func WithClock(now func() time.Time) Option {
	return func(f *FulfillmentService) { f.now = now }
}

// WithIDGenerator overrides the random suffix of transaction ids.
func WithIDGenerator(suffix func() string) Option {
	return func(f *FulfillmentService) { f.newSuffix = suffix }
}

// NewFulfillmentService creates a new instance of FulfillmentService.
// publisher may be nil, in which case no events are emitted.
func NewFulfillmentService(ledger *LedgerService, carts *CartService, publisher EventPublisher, opts ...Option) *FulfillmentService {
	f := &FulfillmentService{
		ledger:    ledger,
		carts:     carts,
		store:     ledger.store,
		publisher: publisher,
		now:       time.Now,
		newSuffix: randomSuffix,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Checkout turns the cart of userID into a withdrawal transaction and a
// completed order, decrementing stock and clearing the cart.
func (f *FulfillmentService) Checkout(ctx context.Context, userID string) (*CheckoutResult, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}

	// The local lock only orders checkouts against cart edits in this
	// process; Take below is what keeps replicas from sharing one cart.
	unlock := f.carts.locks.Lock(userID)
	defer unlock()

	cart, err := f.carts.carts.Get(ctx, userID)
	if err != nil {
		logger.Error().Err(err).Msgf("Error loading cart of %s for checkout", userID)
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, apperr.EmptyCart(userID)
	}
	merged, err := cartLines(cart)
	if err != nil {
		return nil, err
	}

	// Snapshot check so that an impossible checkout never touches the cart.
	if err := f.precheck(ctx, merged); err != nil {
		logger.Warn().Err(err).Msgf("Checkout of %s rejected", userID)
		return nil, err
	}

	var comp compensationLog
	taken, err := f.carts.carts.Take(ctx, userID)
	if err != nil {
		logger.Error().Err(err).Msgf("Error taking cart of %s", userID)
		return nil, err
	}
	if taken.IsEmpty() {
		logger.Warn().Msgf("Cart of %s was checked out concurrently", userID)
		return nil, apperr.EmptyCart(userID)
	}
	comp.add("restore cart "+userID, func(ctx context.Context) error {
		return f.carts.carts.Save(ctx, taken)
	})
	// The taken cart is the one being fulfilled, even if it changed after
	// the snapshot check.
	if merged, err = cartLines(taken); err != nil {
		return nil, f.abort(ctx, &comp, userID, err)
	}

	now := f.now()
	txID := f.transactionID(entity.TransactionWithdrawal, now)
	record := &entity.TransactionRecord{
		TransactionID: txID,
		UserID:        userID,
		Type:          entity.TransactionWithdrawal,
		Date:          now,
	}
	names := make(map[string]string, len(taken.Lines))
	for _, line := range taken.Lines {
		names[line.ItemID] = line.Name
	}
	order := &entity.Order{
		OrderID: txID,
		UserID:  userID,
		Status:  entity.OrderStatusCompleted,
		Date:    now,
	}
	for _, line := range merged {
		order.Items = append(order.Items, entity.OrderLine{ItemID: line.ItemID, Name: names[line.ItemID], Quantity: line.Quantity})
	}

	var items []*entity.Item
	err = f.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		items, err = f.ledger.applyAdjustments(ctx, tx, withdrawals(merged), now)
		if err != nil {
			return asItemGone(err)
		}
		if err := tx.InsertTransaction(ctx, record, transactionLines(merged)); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, f.abort(ctx, &comp, userID, err)
	}

	logger.Info().Str("transaction_id", txID).Msgf("Checkout of %s completed", userID)
	f.publish(ctx, record, merged, items)
	return &CheckoutResult{TransactionID: txID, OrderID: order.OrderID}, nil
}

// abort undoes the side effects of a failed checkout and reports err,
// joined with the compensation failure if there was one.
func (f *FulfillmentService) abort(ctx context.Context, comp *compensationLog, userID string, err error) error {
	logger.Error().Err(err).Msgf("Checkout of %s failed, rolling back", userID)
	if cerr := comp.rollback(ctx); cerr != nil {
		return errors.Join(err, fmt.Errorf("compensation: %w", cerr))
	}
	return err
}

func cartLines(cart *entity.Cart) ([]StockLine, error) {
	lines := make([]StockLine, len(cart.Lines))
	for i, line := range cart.Lines {
		lines[i] = StockLine{ItemID: line.ItemID, Quantity: line.Quantity}
	}
	return mergeLines(lines)
}

// Restock increases the stock of every line in one batch, creating items
// that do not exist yet.
func (f *FulfillmentService) Restock(ctx context.Context, userID string, lines []RestockLine) (*RestockResult, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	if len(lines) == 0 {
		return nil, apperr.Validation("at least one line is required")
	}

	stock := make([]StockLine, len(lines))
	adjustments := make([]Adjustment, len(lines))
	for i, line := range lines {
		if line.Threshold != nil && *line.Threshold < 0 {
			return nil, apperr.Validation("threshold for item %s must not be negative", line.ItemID)
		}
		stock[i] = StockLine{ItemID: line.ItemID, Quantity: line.Quantity}
		adjustments[i] = Adjustment{
			ItemID:    line.ItemID,
			Delta:     line.Quantity,
			Name:      line.Name,
			Category:  line.Category,
			Threshold: line.Threshold,
		}
	}
	merged, err := mergeLines(stock)
	if err != nil {
		return nil, err
	}

	now := f.now()
	record := &entity.TransactionRecord{
		TransactionID: f.transactionID(entity.TransactionRestock, now),
		UserID:        userID,
		Type:          entity.TransactionRestock,
		Date:          now,
	}

	var items []*entity.Item
	err = f.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if items, err = f.ledger.applyAdjustments(ctx, tx, adjustments, now); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, record, transactionLines(merged))
	})
	if err != nil {
		logger.Error().Err(err).Msgf("Restock by %s failed", userID)
		return nil, err
	}

	logger.Info().Str("transaction_id", record.TransactionID).Msgf("Restock of %d items by %s completed", len(merged), userID)
	f.publish(ctx, record, merged, items)
	return &RestockResult{TransactionID: record.TransactionID, Items: items}, nil
}

// Withdraw removes quantity units of one item outside the cart flow.
// requesterID records who performed it when that is not userID.
func (f *FulfillmentService) Withdraw(ctx context.Context, userID, itemID string, quantity int, requesterID string) (*WithdrawResult, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	merged, err := mergeLines([]StockLine{{ItemID: itemID, Quantity: quantity}})
	if err != nil {
		return nil, err
	}

	now := f.now()
	record := &entity.TransactionRecord{
		TransactionID: f.transactionID(entity.TransactionWithdrawal, now),
		UserID:        userID,
		RequesterID:   requesterID,
		Type:          entity.TransactionWithdrawal,
		Date:          now,
	}

	var items []*entity.Item
	err = f.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if items, err = f.ledger.applyAdjustments(ctx, tx, withdrawals(merged), now); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, record, transactionLines(merged))
	})
	if err != nil {
		logger.Error().Err(err).Msgf("Withdrawal of %s for %s failed", itemID, userID)
		return nil, err
	}

	f.publish(ctx, record, merged, items)
	return &WithdrawResult{TransactionID: record.TransactionID, Item: items[0]}, nil
}

// CreateItem adds a new item to the inventory. Opening stock is recorded as
// a restock transaction in the same unit of work as the item itself.
func (f *FulfillmentService) CreateItem(ctx context.Context, userID string, in NewItem) (*entity.Item, error) {
	switch {
	case in.ItemID == "":
		return nil, apperr.Validation("item_id is required")
	case in.Name == "":
		return nil, apperr.Validation("name is required")
	case in.OpeningStock < 0:
		return nil, apperr.Validation("current_stock must not be negative")
	case in.Threshold != nil && *in.Threshold < 0:
		return nil, apperr.Validation("threshold must not be negative")
	}

	now := f.now()
	var record *entity.TransactionRecord
	lines := []StockLine{{ItemID: in.ItemID, Quantity: in.OpeningStock}}
	if in.OpeningStock > 0 {
		record = &entity.TransactionRecord{
			TransactionID: f.transactionID(entity.TransactionRestock, now),
			UserID:        userID,
			Type:          entity.TransactionRestock,
			Date:          now,
		}
	}

	var created *entity.Item
	err := f.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		existing, err := tx.LockItems(ctx, []string{in.ItemID})
		if err != nil {
			return err
		}
		if _, ok := existing[in.ItemID]; ok {
			return apperr.Conflict("item %s already exists", in.ItemID)
		}

		if record == nil {
			created = &entity.Item{ItemID: in.ItemID, Name: in.Name, Category: in.Category}
			if in.Threshold != nil {
				created.Threshold = *in.Threshold
			}
			return tx.CreateItem(ctx, created)
		}

		items, err := f.ledger.applyAdjustments(ctx, tx, []Adjustment{{
			ItemID:    in.ItemID,
			Delta:     in.OpeningStock,
			Name:      in.Name,
			Category:  in.Category,
			Threshold: in.Threshold,
		}}, now)
		if err != nil {
			return err
		}
		created = items[0]
		return tx.InsertTransaction(ctx, record, transactionLines(lines))
	})
	if err != nil {
		logger.Error().Err(err).Msgf("Error creating item %s", in.ItemID)
		return nil, err
	}

	if record != nil {
		f.publish(ctx, record, lines, []*entity.Item{created})
	}
	return created, nil
}

// precheck validates a withdrawal against a read-only snapshot.
func (f *FulfillmentService) precheck(ctx context.Context, lines []StockLine) error {
	ids := make([]string, len(lines))
	for i, line := range lines {
		ids[i] = line.ItemID
	}
	items, err := f.store.GetItems(ctx, ids)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, ok := items[line.ItemID]; !ok {
			return apperr.ItemGone(line.ItemID)
		}
	}
	for _, line := range lines {
		if item := items[line.ItemID]; item.CurrentStock < line.Quantity {
			return apperr.InsufficientStock(line.ItemID, item.CurrentStock, line.Quantity)
		}
	}
	return nil
}

func (f *FulfillmentService) publish(ctx context.Context, record *entity.TransactionRecord, lines []StockLine, items []*entity.Item) {
	if f.publisher == nil {
		return
	}
	byID := make(map[string]*entity.Item, len(items))
	for _, item := range items {
		byID[item.ItemID] = item
	}

	event := &entity.StockEvent{
		TransactionID: record.TransactionID,
		Type:          record.Type,
		UserID:        record.UserID,
		Date:          record.Date,
	}
	for _, line := range lines {
		ev := entity.StockEventItem{
			ItemID: line.ItemID,
			Delta:  entity.TransactionLine{Quantity: line.Quantity}.SignedQuantity(record.Type),
		}
		if item, ok := byID[line.ItemID]; ok {
			ev.CurrentStock = item.CurrentStock
			ev.Threshold = item.Threshold
		}
		event.Items = append(event.Items, ev)
	}

	// The batch is committed; a lost event only delays analytics.
	if err := f.publisher.PublishStockEvent(ctx, event); err != nil {
		logger.Error().Err(err).Str("transaction_id", record.TransactionID).Msg("Error publishing stock event")
	}
}

func (f *FulfillmentService) transactionID(typ entity.TransactionType, now time.Time) string {
	prefix := "RS"
	if typ == entity.TransactionWithdrawal {
		prefix = "WD"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102150405"), f.newSuffix())
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func withdrawals(lines []StockLine) []Adjustment {
	adjustments := make([]Adjustment, len(lines))
	for i, line := range lines {
		adjustments[i] = Adjustment{ItemID: line.ItemID, Delta: -line.Quantity}
	}
	return adjustments
}

func transactionLines(lines []StockLine) []entity.TransactionLine {
	out := make([]entity.TransactionLine, len(lines))
	for i, line := range lines {
		out[i] = entity.TransactionLine{ItemID: line.ItemID, Quantity: line.Quantity}
	}
	return out
}

// asItemGone reports an item deleted between the snapshot and the lock as
// gone rather than not found.
func asItemGone(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind == apperr.KindNotFound && ae.ItemID != "" {
		return apperr.ItemGone(ae.ItemID)
	}
	return err
}
