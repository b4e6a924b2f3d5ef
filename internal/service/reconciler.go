package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"checkout-payments/internal/apperr"
	"checkout-payments/internal/client"
	"checkout-payments/internal/config"
	"checkout-payments/internal/event"
	"checkout-payments/internal/metrics"
	"checkout-payments/internal/model"
	"checkout-payments/internal/repository"

	"go.uber.org/zap"
)

type ReconcileOutcome string

const (
	OutcomePaid            ReconcileOutcome = "paid"
	OutcomeFailed          ReconcileOutcome = "failed"
	OutcomeLeftPending     ReconcileOutcome = "left_pending"
	OutcomeAwaitingPayment ReconcileOutcome = "awaiting_payment"
	OutcomeAlreadySettled  ReconcileOutcome = "already_settled"
	OutcomeConflict        ReconcileOutcome = "conflict"
	OutcomeError           ReconcileOutcome = "error"
)

type OrderOutcome struct {
	OrderID   string           `json:"order_id"`
	IntentID  string           `json:"intent_id,omitempty"`
	Outcome   ReconcileOutcome `json:"outcome"`
	PaymentID string           `json:"payment_id,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type SweepReport struct {
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Examined     int            `json:"examined"`
	Outcomes     []OrderOutcome `json:"outcomes"`
	CartsCleared int            `json:"carts_cleared"`
}

func (r *SweepReport) Count(outcome ReconcileOutcome) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Outcome == outcome {
			n++
		}
	}
	return n
}

// Reconciler asks the gateway for ground truth on orders that have been
// pending longer than the grace window.
type Reconciler struct {
	orderRepo repository.OrderRepository
	gateway   client.RazorpayClient
	carts     CartStore
	publisher event.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	cfg       config.Reconcile
	now       func() time.Time

	running atomic.Bool
}

func NewReconciler(
	orderRepo repository.OrderRepository,
	gateway client.RazorpayClient,
	carts CartStore,
	publisher event.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
	cfg config.Reconcile,
) *Reconciler {
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = time.Minute
	}
	if cfg.AbandonTimeout <= 0 {
		cfg.AbandonTimeout = 60 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Reconciler{
		orderRepo: orderRepo,
		gateway:   gateway,
		carts:     carts,
		publisher: publisher,
		metrics:   m,
		log:       log,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on every tick until ctx is done. A tick that lands while a
// sweep is still active is skipped.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			report, err := r.Sweep(ctx)
			switch {
			case errors.Is(err, apperr.ErrSweepInProgress):
				r.log.Debug("reconcile tick skipped; sweep still running")
			case err != nil:
				r.log.Error("reconcile sweep failed", zap.Error(err))
			case report.Examined > 0 || report.CartsCleared > 0:
				r.log.Info("reconcile sweep finished",
					zap.Int("examined", report.Examined),
					zap.Int("paid", report.Count(OutcomePaid)),
					zap.Int("failed", report.Count(OutcomeFailed)),
					zap.Int("errors", report.Count(OutcomeError)),
					zap.Int("carts_cleared", report.CartsCleared))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one bounded reconciliation pass. Only one pass runs at a time;
// a concurrent call returns ErrSweepInProgress. Errors on a single order
// are recorded in the report and do not stop the pass.
func (r *Reconciler) Sweep(ctx context.Context) (*SweepReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, apperr.ErrSweepInProgress
	}
	defer r.running.Store(false)

	start := time.Now()
	defer func() { r.metrics.ObserveSweep(time.Since(start)) }()

	report := &SweepReport{StartedAt: r.now()}

	orders, err := r.orderRepo.FindStalePending(ctx, report.StartedAt.Add(-r.cfg.GraceWindow), r.cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("find stale pending orders: %w", err)
	}

	examined := make([]string, 0, len(orders))
	for _, o := range orders {
		if ctx.Err() != nil {
			break
		}
		outcome := r.reconcileOrder(ctx, o, report.StartedAt)
		r.metrics.RecordReconcile(string(outcome.Outcome))
		report.Outcomes = append(report.Outcomes, outcome)
		report.Examined++
		examined = append(examined, o.ID)
	}

	// rotate examined orders to the back of the next batch
	if err := r.orderRepo.MarkReconciled(context.WithoutCancel(ctx), examined, report.StartedAt); err != nil {
		r.log.Warn("failed to stamp reconciled orders", zap.Error(err))
	}

	report.CartsCleared = r.retryCartClears(ctx, report.StartedAt)
	report.FinishedAt = r.now()

	return report, nil
}

func (r *Reconciler) reconcileOrder(ctx context.Context, o *model.Order, now time.Time) OrderOutcome {
	out := OrderOutcome{OrderID: o.ID, IntentID: o.IntentID()}
	log := r.log.With(zap.String("order_id", o.ID), zap.String("intent_id", out.IntentID))
	abandoned := now.Sub(o.CreatedAt) > r.cfg.AbandonTimeout

	// the gateway was never reached for this order
	if out.IntentID == "" {
		if abandoned {
			return r.fail(ctx, o, out, "abandoned before a gateway intent was created", log)
		}
		out.Outcome = OutcomeAwaitingPayment
		return out
	}

	records, err := r.gateway.FetchPaymentsForIntent(ctx, out.IntentID)
	if err != nil {
		log.Warn("fetch payments failed", zap.Error(err))
		out.Outcome = OutcomeError
		out.Error = err.Error()
		return out
	}

	if settled, ok := pickSettled(records); ok {
		return r.settle(ctx, out, settled, log)
	}

	switch {
	case len(records) > 0:
		out.Outcome = OutcomeLeftPending
	case abandoned:
		return r.fail(ctx, o, out, "abandoned: no payment attempts at gateway", log)
	default:
		out.Outcome = OutcomeAwaitingPayment
	}
	return out
}

func (r *Reconciler) settle(ctx context.Context, out OrderOutcome, rec client.PaymentRecord, log *zap.Logger) OrderOutcome {
	out.PaymentID = rec.ID

	order, applied, err := r.orderRepo.Finalize(ctx, repository.FinalizeParams{
		IntentID:  out.IntentID,
		PaymentID: rec.ID,
		Source:    model.SourceReconcile,
	})
	switch {
	case errors.Is(err, apperr.ErrInvalidTransition):
		log.Error("gateway captured a payment for a closed order", zap.String("payment_id", rec.ID), zap.Error(err))
		out.Outcome = OutcomeConflict
		out.Error = err.Error()
		return out
	case err != nil:
		out.Outcome = OutcomeError
		out.Error = err.Error()
		return out
	case !applied:
		out.Outcome = OutcomeAlreadySettled
		return out
	}

	log.Info("order reconciled as paid", zap.String("payment_id", rec.ID))
	r.metrics.RecordTransition(string(model.OrderStatusPaid), model.SourceReconcile)
	r.publish(ctx, event.OrderPaid, order)
	markCartCleared(ctx, r.orderRepo, r.log, order, r.carts.RemoveProducts(ctx, order.UserID, order.ProductIDs()))

	out.Outcome = OutcomePaid
	return out
}

func (r *Reconciler) fail(ctx context.Context, o *model.Order, out OrderOutcome, reason string, log *zap.Logger) OrderOutcome {
	order, applied, err := r.orderRepo.MarkFailedByID(ctx, o.ID, reason)
	switch {
	case errors.Is(err, apperr.ErrInvalidTransition):
		out.Outcome = OutcomeAlreadySettled
		return out
	case err != nil:
		out.Outcome = OutcomeError
		out.Error = err.Error()
		return out
	}

	if applied {
		log.Info("order marked failed", zap.String("reason", reason))
		r.metrics.RecordTransition(string(model.OrderStatusFailed), model.SourceReconcile)
		r.publish(ctx, event.OrderFailed, order)
		out.Outcome = OutcomeFailed
	} else {
		out.Outcome = OutcomeAlreadySettled
	}
	return out
}

// retryCartClears finishes cart clears that failed right after payment.
// Only the ordered products are removed, so items added since stay.
func (r *Reconciler) retryCartClears(ctx context.Context, now time.Time) int {
	orders, err := r.orderRepo.FindUnclearedPaid(ctx, now.Add(-r.cfg.GraceWindow), r.cfg.BatchLimit)
	if err != nil {
		r.log.Warn("find uncleared paid orders failed", zap.Error(err))
		return 0
	}

	cleared := 0
	for _, o := range orders {
		if ctx.Err() != nil {
			break
		}
		if markCartCleared(ctx, r.orderRepo, r.log, o, r.carts.RemoveProducts(ctx, o.UserID, o.ProductIDs())) {
			cleared++
		}
	}
	return cleared
}

func (r *Reconciler) publish(ctx context.Context, eventType string, order *model.Order) {
	if err := r.publisher.Publish(ctx, event.FromOrder(eventType, order)); err != nil {
		r.log.Warn("failed to publish order event",
			zap.String("type", eventType),
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}

// pickSettled prefers a captured payment over an authorized one.
func pickSettled(records []client.PaymentRecord) (client.PaymentRecord, bool) {
	var authorized *client.PaymentRecord
	for i := range records {
		switch records[i].Status {
		case client.PaymentCaptured:
			return records[i], true
		case client.PaymentAuthorized:
			if authorized == nil {
				authorized = &records[i]
			}
		}
	}
	if authorized != nil {
		return *authorized, true
	}
	return client.PaymentRecord{}, false
}
