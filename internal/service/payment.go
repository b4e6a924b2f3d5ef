package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"checkout-payments/internal/apperr"
	"checkout-payments/internal/client"
	"checkout-payments/internal/event"
	"checkout-payments/internal/metrics"
	"checkout-payments/internal/model"
	"checkout-payments/internal/repository"

	"go.uber.org/zap"
)

type CreateOrderResult struct {
	Order  *model.Order
	Intent *client.Intent
	KeyID  string
}

type VerifyInput struct {
	IntentID  string
	PaymentID string
	Signature string
}

type PaymentsOverview struct {
	Orders   []*model.Order
	ByStatus map[model.OrderStatus]int64
}

type PaymentService interface {
	CreateOrder(ctx context.Context, userID string, address model.ShippingAddress) (*CreateOrderResult, error)
	VerifyPayment(ctx context.Context, userID string, in VerifyInput) (*model.Order, error)
	CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error)
	HandleWebhook(ctx context.Context, eventID, signature string, body []byte) error
	ListOrders(ctx context.Context, userID string) ([]*model.Order, error)
	ListAllPayments(ctx context.Context, status model.OrderStatus, limit int) (*PaymentsOverview, error)
}

type paymentServiceImpl struct {
	snapshotter      *Snapshotter
	carts            CartStore
	gateway          client.RazorpayClient
	orderRepo        repository.OrderRepository
	webhookEventRepo repository.WebhookEventRepository
	publisher        event.Publisher
	metrics          *metrics.Metrics
	log              *zap.Logger
	currency         string
}

func NewPaymentService(
	snapshotter *Snapshotter,
	carts CartStore,
	gateway client.RazorpayClient,
	orderRepo repository.OrderRepository,
	webhookEventRepo repository.WebhookEventRepository,
	publisher event.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
	currency string,
) PaymentService {
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	return &paymentServiceImpl{
		snapshotter:      snapshotter,
		carts:            carts,
		gateway:          gateway,
		orderRepo:        orderRepo,
		webhookEventRepo: webhookEventRepo,
		publisher:        publisher,
		metrics:          m,
		log:              log,
		currency:         currency,
	}
}

// CreateOrder snapshots the cart into a pending order and opens a gateway
// intent for it. If the gateway call fails the order stays pending and is
// returned together with the error.
func (s *paymentServiceImpl) CreateOrder(ctx context.Context, userID string, address model.ShippingAddress) (*CreateOrderResult, error) {
	if missing := address.MissingFields(); len(missing) > 0 {
		return nil, apperr.New(apperr.KindMissingFields, "missing address fields: %s", strings.Join(missing, ", "))
	}

	snap, err := s.snapshotter.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	order, err := s.orderRepo.Create(ctx, repository.NewOrder{
		UserID:          userID,
		Items:           snap.Items,
		Currency:        s.currency,
		ShippingAddress: address,
		Metadata: model.OrderMetadata{
			PriceResolution: snap.Resolution,
			StaleLines:      snap.StaleLines,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.metrics.RecordTransition(string(order.Status), model.SourceClient)
	s.publish(ctx, event.OrderCreated, order)

	log := s.log.With(zap.String("order_id", order.ID), zap.String("user_id", userID))
	result := &CreateOrderResult{Order: order, KeyID: s.gateway.KeyID()}

	intent, err := s.gateway.CreateIntent(ctx, order.AmountMinor, order.Currency, order.Receipt)
	if err != nil {
		log.Warn("gateway intent creation failed; order left pending", zap.Error(err))
		if recErr := s.orderRepo.RecordIntentError(ctx, order.ID, string(apperr.KindOf(err))); recErr != nil {
			log.Warn("failed to record intent error", zap.Error(recErr))
		}
		return result, err
	}

	order, err = s.orderRepo.AttachGatewayIntent(ctx, order.ID, intent.ID)
	if err != nil {
		return result, fmt.Errorf("attach gateway intent: %w", err)
	}

	log.Info("order created",
		zap.String("intent_id", intent.ID),
		zap.Int64("amount_minor", order.AmountMinor),
		zap.Int("stale_lines", snap.StaleLines))

	result.Order = order
	result.Intent = intent
	return result, nil
}

func (s *paymentServiceImpl) VerifyPayment(ctx context.Context, userID string, in VerifyInput) (*model.Order, error) {
	var missing []string
	if in.IntentID == "" {
		missing = append(missing, "intent_id")
	}
	if in.PaymentID == "" {
		missing = append(missing, "payment_id")
	}
	if in.Signature == "" {
		missing = append(missing, "signature")
	}
	if len(missing) > 0 {
		s.metrics.RecordVerification("missing_fields")
		return nil, apperr.New(apperr.KindMissingFields, "missing required fields: %s", strings.Join(missing, ", "))
	}

	log := s.log.With(zap.String("intent_id", in.IntentID), zap.String("user_id", userID))

	if !s.gateway.VerifySignature(in.IntentID, in.PaymentID, in.Signature) {
		s.metrics.RecordVerification("invalid_signature")

		order, applied, err := s.orderRepo.MarkFailed(ctx, in.IntentID, userID, "signature mismatch")
		switch {
		case err == nil && applied:
			s.metrics.RecordTransition(string(model.OrderStatusFailed), model.SourceClient)
			s.publish(ctx, event.OrderFailed, order)
		case errors.Is(err, apperr.ErrInvalidTransition):
			log.Warn("signature mismatch on a settled order; status kept", zap.Error(err))
		case errors.Is(err, apperr.ErrOrderNotFound):
		case err != nil:
			log.Error("failed to mark order failed", zap.Error(err))
		}

		return nil, apperr.ErrInvalidSignature
	}

	order, applied, err := s.orderRepo.Finalize(ctx, repository.FinalizeParams{
		IntentID:  in.IntentID,
		PaymentID: in.PaymentID,
		Signature: in.Signature,
		UserID:    userID,
		Source:    model.SourceClient,
	})
	if err != nil {
		s.metrics.RecordVerification("rejected")
		return nil, err
	}

	s.metrics.RecordVerification("ok")
	if applied {
		s.metrics.RecordTransition(string(model.OrderStatusPaid), model.SourceClient)
		s.publish(ctx, event.OrderPaid, order)
		markCartCleared(ctx, s.orderRepo, s.log, order, s.carts.ClearCart(ctx, order.UserID))
		log.Info("payment verified", zap.String("order_id", order.ID), zap.String("payment_id", in.PaymentID))
	}

	return order, nil
}

func (s *paymentServiceImpl) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	if orderID == "" {
		return nil, apperr.New(apperr.KindMissingFields, "missing required fields: order_id")
	}

	order, applied, err := s.orderRepo.MarkCancelled(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if applied {
		s.metrics.RecordTransition(string(model.OrderStatusCancelled), model.SourceClient)
		s.publish(ctx, event.OrderCancelled, order)
	}

	return order, nil
}

// HandleWebhook settles orders from signed gateway events. Events are
// deduplicated by id; finalization itself is idempotent.
func (s *paymentServiceImpl) HandleWebhook(ctx context.Context, eventID, signature string, body []byte) error {
	if !s.gateway.VerifyWebhookSignature(body, signature) {
		return apperr.ErrInvalidSignature
	}

	var evt model.RazorpayWebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return apperr.New(apperr.KindMissingFields, "malformed webhook payload")
	}

	log := s.log.With(zap.String("event_id", eventID), zap.String("event", evt.Event))

	if eventID != "" {
		seen, err := s.webhookEventRepo.Exists(ctx, eventID)
		if err != nil {
			return fmt.Errorf("check webhook event: %w", err)
		}
		if seen {
			log.Debug("duplicate webhook ignored")
			return nil
		}
	}

	switch evt.Event {
	case model.WebhookPaymentCaptured, model.WebhookPaymentAuthorized, model.WebhookOrderPaid:
		if err := s.settleFromWebhook(ctx, &evt, log); err != nil {
			return err
		}
	default:
		log.Debug("webhook event ignored")
	}

	if eventID != "" {
		if _, err := s.webhookEventRepo.MarkProcessed(ctx, eventID, evt.Event); err != nil {
			return fmt.Errorf("mark webhook processed: %w", err)
		}
	}

	return nil
}

func (s *paymentServiceImpl) settleFromWebhook(ctx context.Context, evt *model.RazorpayWebhookEvent, log *zap.Logger) error {
	intentID, paymentID := evt.IntentID(), evt.PaymentID()
	if intentID == "" || paymentID == "" {
		log.Warn("webhook without order or payment id")
		return nil
	}

	order, applied, err := s.orderRepo.Finalize(ctx, repository.FinalizeParams{
		IntentID:  intentID,
		PaymentID: paymentID,
		Source:    model.SourceWebhook,
	})
	switch {
	case errors.Is(err, apperr.ErrOrderNotFound):
		log.Warn("webhook for unknown intent", zap.String("intent_id", intentID))
		return nil
	case errors.Is(err, apperr.ErrInvalidTransition):
		log.Error("gateway settled a closed order", zap.String("intent_id", intentID), zap.Error(err))
		return nil
	case err != nil:
		return fmt.Errorf("finalize from webhook: %w", err)
	}

	if applied {
		s.metrics.RecordTransition(string(model.OrderStatusPaid), model.SourceWebhook)
		s.publish(ctx, event.OrderPaid, order)
		markCartCleared(ctx, s.orderRepo, s.log, order, s.carts.RemoveProducts(ctx, order.UserID, order.ProductIDs()))
	}
	return nil
}

func (s *paymentServiceImpl) ListOrders(ctx context.Context, userID string) ([]*model.Order, error) {
	return s.orderRepo.ListByUser(ctx, userID)
}

func (s *paymentServiceImpl) ListAllPayments(ctx context.Context, status model.OrderStatus, limit int) (*PaymentsOverview, error) {
	orders, err := s.orderRepo.List(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	counts, err := s.orderRepo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	return &PaymentsOverview{Orders: orders, ByStatus: counts}, nil
}

func (s *paymentServiceImpl) publish(ctx context.Context, eventType string, order *model.Order) {
	if err := s.publisher.Publish(ctx, event.FromOrder(eventType, order)); err != nil {
		s.log.Warn("failed to publish order event",
			zap.String("type", eventType),
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}

// markCartCleared records the outcome of a post-payment cart clear. A
// failure is only logged; the sweep retries orders left with cart_cleared unset.
func markCartCleared(ctx context.Context, orders repository.OrderRepository, log *zap.Logger, order *model.Order, clearErr error) bool {
	if clearErr != nil {
		log.Warn("cart clear after payment failed; will retry",
			zap.String("order_id", order.ID),
			zap.String("user_id", order.UserID),
			zap.Error(clearErr))
		return false
	}
	if err := orders.MarkCartCleared(ctx, order.ID); err != nil {
		log.Warn("failed to flag cart cleared", zap.String("order_id", order.ID), zap.Error(err))
		return false
	}
	order.CartCleared = true
	return true
}
