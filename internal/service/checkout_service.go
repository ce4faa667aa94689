package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutStore is the persistence surface settlement needs
type CheckoutStore interface {
	Transact(ctx context.Context, fn func(tx store.Tx) error) error
	GetOrderByID(ctx context.Context, orderID string, userID int64) (*models.Order, error)
	GetOrderLines(ctx context.Context, orderID string) ([]models.OrderLine, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	GetAddress(ctx context.Context, addressID, userID int64) (*models.Address, error)
	GetSKUsByIDs(ctx context.Context, ids []int64) ([]models.SKU, error)
}

// SelectedCarts reads and clears the selected entries of a user cart
type SelectedCarts interface {
	Selected(ctx context.Context, userID int64) ([]cart.Entry, error)
	Clear(ctx context.Context, userID int64, skuIDs []int64) error
}

// OrderPublisher announces committed orders
type OrderPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
}

// CheckoutService turns selected cart entries into a persisted order
type CheckoutService struct {
	store     CheckoutStore
	carts     SelectedCarts
	publisher OrderPublisher
	freight   int64
	logger    *zap.Logger
	now       func() time.Time
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(st CheckoutStore, carts SelectedCarts, publisher OrderPublisher, freight int64) *CheckoutService {
	return &CheckoutService{
		store:     st,
		carts:     carts,
		publisher: publisher,
		freight:   freight,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// NewOrderID builds the fixed-width order id: a 14-digit local timestamp
// followed by the zero-padded 9-digit user id. Uniqueness rides on the
// second-resolution timestamp; collisions within one second for one user
// are accepted as negligible.
func NewOrderID(t time.Time, userID int64) string {
	return t.Format("20060102150405") + fmt.Sprintf("%09d", userID)
}

// PreviewLine is one selected entry priced for the settlement page
type PreviewLine struct {
	SKU      models.SKU `json:"sku"`
	Quantity int        `json:"quantity"`
}

// Preview returns the selected entries with current prices and the
// freight that settlement will charge.
type Preview struct {
	Freight int64         `json:"freight"`
	Lines   []PreviewLine `json:"skus"`
}

// PreviewOrder prices the current selection without touching stock
func (s *CheckoutService) PreviewOrder(ctx context.Context, userID int64) (*Preview, error) {
	entries, err := s.carts.Selected(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read selected cart entries: %w", err)
	}
	if len(entries) == 0 {
		return &Preview{Freight: s.freight, Lines: []PreviewLine{}}, nil
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.SKUID
	}
	skus, err := s.store.GetSKUsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]models.SKU, len(skus))
	for _, sku := range skus {
		byID[sku.ID] = sku
	}

	preview := &Preview{Freight: s.freight, Lines: make([]PreviewLine, 0, len(entries))}
	for _, e := range entries {
		sku, ok := byID[e.SKUID]
		if !ok {
			return nil, fmt.Errorf("sku %d: %w", e.SKUID, models.ErrNotFound)
		}
		preview.Lines = append(preview.Lines, PreviewLine{SKU: sku, Quantity: e.Quantity})
	}
	return preview, nil
}

// Create settles the selected cart entries into an order. Stock checks,
// stock decrements, order header and lines all commit in one transaction
// or not at all. Cart cleanup afterwards is best-effort: a committed
// order stands even if the cart keeps its settled entries.
func (s *CheckoutService) Create(ctx context.Context, userID, addressID int64, payMethod int) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Create")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SettlementLatency.Observe(time.Since(start).Seconds())
	}()

	if payMethod != models.PayMethodCash && payMethod != models.PayMethodAlipay {
		util.OrdersFailedTotal.WithLabelValues("bad_pay_method").Inc()
		return nil, &models.ValidationError{Reason: fmt.Sprintf("unknown pay method %d", payMethod)}
	}

	if _, err := s.store.GetAddress(ctx, addressID, userID); err != nil {
		util.OrdersFailedTotal.WithLabelValues("bad_address").Inc()
		return nil, err
	}

	entries, err := s.carts.Selected(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read selected cart entries: %w", err)
	}
	if len(entries) == 0 {
		util.OrdersFailedTotal.WithLabelValues("empty_selection").Inc()
		return nil, &models.ValidationError{Reason: "no cart entries selected"}
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.SKUID
	}

	status := models.OrderStatusUnpaid
	if payMethod == models.PayMethodCash {
		status = models.OrderStatusUnsent
	}

	order := &models.Order{
		ID:        NewOrderID(s.now(), userID),
		UserID:    userID,
		AddressID: addressID,
		Freight:   s.freight,
		PayMethod: payMethod,
		Status:    status,
	}

	err = s.store.Transact(ctx, func(tx store.Tx) error {
		skus, err := tx.SKUsByIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("load skus: %w", err)
		}
		byID := make(map[int64]models.SKU, len(skus))
		for _, sku := range skus {
			byID[sku.ID] = sku
		}

		lines := make([]models.OrderLine, 0, len(entries))
		for _, e := range entries {
			sku, ok := byID[e.SKUID]
			if !ok {
				return fmt.Errorf("sku %d: %w", e.SKUID, models.ErrNotFound)
			}

			deducted, err := tx.DeductStock(ctx, sku.ID, e.Quantity)
			if err != nil {
				return err
			}
			if !deducted {
				return &models.InsufficientStockError{SKUID: sku.ID}
			}

			lines = append(lines, models.OrderLine{
				OrderID:   order.ID,
				SKUID:     sku.ID,
				Quantity:  e.Quantity,
				UnitPrice: sku.Price,
			})
			order.TotalCount += e.Quantity
			order.TotalAmount += sku.Price * int64(e.Quantity)
		}
		order.TotalAmount += order.Freight

		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return tx.InsertOrderLines(ctx, lines)
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("settlement").Inc()
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order settled",
		zap.String("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.Int("total_count", order.TotalCount),
		zap.Int64("total_amount", order.TotalAmount))

	// Best-effort cleanup outside the transaction. A failure here leaves
	// settled entries in the cart; the next cart read surfaces them again.
	if err := s.carts.Clear(ctx, userID, ids); err != nil {
		s.logger.Warn("Failed to clear settled cart entries",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: s.now(),
		},
		OrderID:     order.ID,
		UserID:      userID,
		TotalCount:  order.TotalCount,
		TotalAmount: order.TotalAmount,
	}
	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}

	return order, nil
}

// Get retrieves an order and its lines, scoped to the owner
func (s *CheckoutService) Get(ctx context.Context, userID int64, orderID string) (*models.Order, []models.OrderLine, error) {
	order, err := s.store.GetOrderByID(ctx, orderID, userID)
	if err != nil {
		return nil, nil, err
	}

	lines, err := s.store.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, lines, nil
}

// List retrieves a user's orders, newest first
func (s *CheckoutService) List(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.ListOrdersByUser(ctx, userID)
}
