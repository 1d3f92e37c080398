package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"main/internal/model"
)

// ErrOrderNotFound is returned when an order id has no durable row.
// The job queue treats it as terminal; a retry cannot make it appear.
var ErrOrderNotFound = errors.New("order not found")

// OrderUpdate lists the only columns a worker may mutate after creation.
// A nil field is left untouched; ClearFailureReason writes NULL.
type OrderUpdate struct {
	Status             *model.Status
	SelectedDex        *model.Dex
	ExecutedPrice      *float64
	TxHash             *string
	FailureReason      *string
	ClearFailureReason bool
}

func (u OrderUpdate) columns() map[string]any {
	cols := make(map[string]any)
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.SelectedDex != nil {
		cols["selected_dex"] = *u.SelectedDex
	}
	if u.ExecutedPrice != nil {
		cols["executed_price"] = *u.ExecutedPrice
	}
	if u.TxHash != nil {
		cols["tx_hash"] = *u.TxHash
	}
	if u.ClearFailureReason {
		cols["failure_reason"] = nil
	} else if u.FailureReason != nil {
		cols["failure_reason"] = *u.FailureReason
	}
	return cols
}

// Orders is the durable order store, the source of truth for terminal state.
type Orders struct {
	db *gorm.DB
}

// NewOrders wraps a gorm connection.
func NewOrders(db *gorm.DB) *Orders {
	return &Orders{db: db}
}

// Migrate creates or updates the orders table.
func (s *Orders) Migrate() error {
	return s.db.AutoMigrate(&model.Order{})
}

// Create persists a new order row.
func (s *Orders) Create(ctx context.Context, order *model.Order) error {
	return s.db.WithContext(ctx).Create(order).Error
}

// GetByID loads one order.
func (s *Orders) GetByID(ctx context.Context, id string) (model.Order, error) {
	var order model.Order
	err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

// Update applies a partial update and bumps updated_at. An update naming
// no columns is a no-op.
func (s *Orders) Update(ctx context.Context, id string, update OrderUpdate) error {
	cols := update.columns()
	if len(cols) == 0 {
		return nil
	}
	cols["updated_at"] = time.Now().UTC()

	res := s.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}
