package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-payments/internal/apperr"
	"checkout-payments/internal/model"
	"checkout-payments/internal/money"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NewOrder struct {
	UserID          string
	Items           []model.OrderItem
	Currency        string
	ShippingAddress model.ShippingAddress
	Metadata        model.OrderMetadata
}

type FinalizeParams struct {
	IntentID  string
	PaymentID string
	Signature string
	// UserID scopes the lookup for client callbacks; empty for gateway-originated finalization.
	UserID string
	Source string
}

type OrderRepository interface {
	Create(ctx context.Context, in NewOrder) (*model.Order, error)
	AttachGatewayIntent(ctx context.Context, orderID, intentID string) (*model.Order, error)
	Finalize(ctx context.Context, p FinalizeParams) (*model.Order, bool, error)
	MarkFailed(ctx context.Context, intentID, userID, reason string) (*model.Order, bool, error)
	MarkFailedByID(ctx context.Context, orderID, reason string) (*model.Order, bool, error)
	MarkCancelled(ctx context.Context, orderID, userID string) (*model.Order, bool, error)
	RecordIntentError(ctx context.Context, orderID, reason string) error
	MarkCartCleared(ctx context.Context, orderID string) error
	MarkReconciled(ctx context.Context, orderIDs []string, at time.Time) error

	FindByID(ctx context.Context, orderID string) (*model.Order, error)
	FindByIntentID(ctx context.Context, intentID string) (*model.Order, error)
	FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Order, error)
	FindUnclearedPaid(ctx context.Context, updatedBefore time.Time, limit int) ([]*model.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Order, error)
	List(ctx context.Context, status model.OrderStatus, limit int) ([]*model.Order, error)
	CountByStatus(ctx context.Context) (map[model.OrderStatus]int64, error)
}

type orderRepoImpl struct {
	db  *gorm.DB
	now func() time.Time

	// afterLookup runs between the locked read and the conditional update.
	afterLookup func(tx *gorm.DB, o *model.Order)
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// NewReceipt returns "rcpt_" followed by 32 hex characters (37 total),
// inside the gateway's 40 character receipt limit.
func NewReceipt() string {
	return "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (r *orderRepoImpl) Create(ctx context.Context, in NewOrder) (*model.Order, error) {
	if len(in.Items) == 0 {
		return nil, apperr.ErrEmptyCart
	}

	var total int64
	for _, it := range in.Items {
		if it.Quantity < 1 || it.UnitPriceMinor <= 0 {
			return nil, apperr.New(apperr.KindInvalidAmount, "line %s has no payable amount", it.ProductID)
		}
		line, err := money.LineTotal(it.UnitPriceMinor, it.Quantity)
		if err != nil {
			return nil, err
		}
		if total, err = money.Add(total, line); err != nil {
			return nil, err
		}
	}
	if total <= 0 {
		return nil, apperr.New(apperr.KindInvalidAmount, "order total must be positive")
	}

	now := r.now()
	order := &model.Order{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		Items:           in.Items,
		AmountMinor:     total,
		Currency:        in.Currency,
		Receipt:         NewReceipt(),
		Status:          model.OrderStatusPendingPayment,
		ShippingAddress: in.ShippingAddress,
		Metadata:        in.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	return order, nil
}

func (r *orderRepoImpl) AttachGatewayIntent(ctx context.Context, orderID, intentID string) (*model.Order, error) {
	order, err := r.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.GatewayIntentID != nil {
		if *order.GatewayIntentID == intentID {
			return order, nil
		}
		return nil, apperr.New(apperr.KindInvalidTransition, "order already has a gateway intent")
	}

	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND gateway_intent_id IS NULL AND status IN ?", orderID, model.OpenOrderStatuses).
		Updates(map[string]interface{}{
			"gateway_intent_id": intentID,
			"updated_at":        r.now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("attach intent: %w", result.Error)
	}

	current, err := r.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 && current.IntentID() != intentID {
		return nil, apperr.New(apperr.KindInvalidTransition, "order is %s", current.Status)
	}

	return current, nil
}

func (r *orderRepoImpl) Finalize(ctx context.Context, p FinalizeParams) (*model.Order, bool, error) {
	lookup := func(tx *gorm.DB) *gorm.DB {
		q := tx.Where("gateway_intent_id = ?", p.IntentID)
		if p.UserID != "" {
			q = q.Where("user_id = ?", p.UserID)
		}
		return q
	}

	return r.transition(ctx, lookup, model.OrderStatusPaid, func(o *model.Order) map[string]interface{} {
		o.Metadata.FinalizedBy = p.Source
		o.Metadata.Reconciled = p.Source != model.SourceClient
		return map[string]interface{}{
			"gateway_payment_id": p.PaymentID,
			"gateway_signature":  p.Signature,
		}
	})
}

// MarkFailed fails an open order. A paid order is never downgraded: the
// call reports InvalidTransition and the order is left untouched.
func (r *orderRepoImpl) MarkFailed(ctx context.Context, intentID, userID, reason string) (*model.Order, bool, error) {
	lookup := func(tx *gorm.DB) *gorm.DB {
		q := tx.Where("gateway_intent_id = ?", intentID)
		if userID != "" {
			q = q.Where("user_id = ?", userID)
		}
		return q
	}
	return r.transition(ctx, lookup, model.OrderStatusFailed, failWith(reason))
}

func (r *orderRepoImpl) MarkFailedByID(ctx context.Context, orderID, reason string) (*model.Order, bool, error) {
	return r.transition(ctx, byID(orderID), model.OrderStatusFailed, failWith(reason))
}

func (r *orderRepoImpl) MarkCancelled(ctx context.Context, orderID, userID string) (*model.Order, bool, error) {
	lookup := func(tx *gorm.DB) *gorm.DB {
		return tx.Where("id = ? AND user_id = ?", orderID, userID)
	}
	return r.transition(ctx, lookup, model.OrderStatusCancelled, nil)
}

func (r *orderRepoImpl) RecordIntentError(ctx context.Context, orderID, reason string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order
		if err := tx.Where("id = ?", orderID).First(&order).Error; err != nil {
			return notFound(err)
		}
		order.Metadata.IntentError = reason
		meta, err := encodeJSON(order.Metadata)
		if err != nil {
			return err
		}
		return tx.Model(&model.Order{}).
			Where("id = ?", orderID).
			Updates(map[string]interface{}{
				"metadata":   meta,
				"updated_at": r.now(),
			}).Error
	})
}

func (r *orderRepoImpl) MarkCartCleared(ctx context.Context, orderID string) error {
	return r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, model.OrderStatusPaid).
		Updates(map[string]interface{}{
			"cart_cleared": true,
			"updated_at":   r.now(),
		}).Error
}

// MarkReconciled stamps orders the sweep has examined. updated_at is left
// alone so the cart clear retry window is unaffected.
func (r *orderRepoImpl) MarkReconciled(ctx context.Context, orderIDs []string, at time.Time) error {
	if len(orderIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id IN ?", orderIDs).
		UpdateColumn("last_reconciled_at", at.UTC()).Error
}

// transition moves the order found by lookup to status `to` with a
// conditional update on the open statuses. Returns applied=false with the
// current order when it already is in `to`; a lost race is resolved by
// re-reading the row. Both reads lock the row so they see the latest
// committed version under REPEATABLE READ (sqlite ignores the clause).
func (r *orderRepoImpl) transition(
	ctx context.Context,
	lookup func(*gorm.DB) *gorm.DB,
	to model.OrderStatus,
	changes func(o *model.Order) map[string]interface{},
) (*model.Order, bool, error) {
	var order model.Order
	applied := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lookup(tx).Clauses(forUpdate).First(&order).Error; err != nil {
			return notFound(err)
		}
		if r.afterLookup != nil {
			r.afterLookup(tx, &order)
		}
		if order.Status == to {
			return nil
		}
		if !order.Status.CanTransitionTo(to) {
			return apperr.New(apperr.KindInvalidTransition, "order is %s", order.Status)
		}

		updates := map[string]interface{}{}
		if changes != nil {
			updates = changes(&order)
		}
		meta, err := encodeJSON(order.Metadata)
		if err != nil {
			return err
		}
		updates["metadata"] = meta
		updates["status"] = to
		updates["updated_at"] = r.now()

		result := tx.Model(&model.Order{}).
			Where("id = ? AND status IN ?", order.ID, model.OpenOrderStatuses).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}

		id := order.ID
		order = model.Order{}
		if err := tx.Clauses(forUpdate).Where("id = ?", id).First(&order).Error; err != nil {
			return err
		}
		if result.RowsAffected == 0 {
			if order.Status == to {
				return nil
			}
			return apperr.New(apperr.KindInvalidTransition, "order is %s", order.Status)
		}

		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return &order, applied, nil
}

func (r *orderRepoImpl) FindByID(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("id = ?", orderID).
		First(&order).Error

	if err != nil {
		return nil, notFound(err)
	}

	return &order, nil
}

func (r *orderRepoImpl) FindByIntentID(ctx context.Context, intentID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("gateway_intent_id = ?", intentID).
		First(&order).Error

	if err != nil {
		return nil, notFound(err)
	}

	return &order, nil
}

// FindStalePending returns never-examined orders first, then the ones
// examined longest ago, so orders the gateway keeps undecided cannot
// starve the rest of the batch.
func (r *orderRepoImpl) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", model.OpenOrderStatuses, createdBefore.UTC()).
		Order("last_reconciled_at IS NOT NULL").
		Order("last_reconciled_at ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *orderRepoImpl) FindUnclearedPaid(ctx context.Context, updatedBefore time.Time, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND cart_cleared = ? AND updated_at < ?", model.OrderStatusPaid, false, updatedBefore.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *orderRepoImpl) ListByUser(ctx context.Context, userID string) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&orders).Error

	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *orderRepoImpl) List(ctx context.Context, status model.OrderStatus, limit int) ([]*model.Order, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var orders []*model.Order
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *orderRepoImpl) CountByStatus(ctx context.Context) (map[model.OrderStatus]int64, error) {
	var rows []struct {
		Status model.OrderStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&model.Order{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error

	if err != nil {
		return nil, err
	}

	counts := make(map[model.OrderStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

var forUpdate = clause.Locking{Strength: "UPDATE"}

func byID(orderID string) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("id = ?", orderID)
	}
}

func failWith(reason string) func(o *model.Order) map[string]interface{} {
	return func(o *model.Order) map[string]interface{} {
		o.Metadata.FailureReason = reason
		return map[string]interface{}{}
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrOrderNotFound
	}
	return err
}

// encodeJSON renders a serializer:json column for map based updates.
func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(b), nil
}
