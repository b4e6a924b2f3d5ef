package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"checkout-payments/internal/apperr"
	"checkout-payments/internal/client"
	"checkout-payments/internal/event"
	"checkout-payments/internal/model"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutAndVerify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fillCart(t, "u1")

	res, err := env.payments.CreateOrder(ctx, "u1", testAddress)
	require.NoError(t, err)

	order := res.Order
	assert.Equal(t, int64(650000), order.AmountMinor)
	assert.Equal(t, model.OrderStatusPendingPayment, order.Status)
	assert.Equal(t, "INR", order.Currency)
	require.NotNil(t, res.Intent)
	assert.Equal(t, int64(650000), res.Intent.Amount)
	assert.Equal(t, order.Receipt, res.Intent.Receipt)
	assert.Equal(t, res.Intent.ID, order.IntentID())
	assert.Equal(t, "rzp_test_key", res.KeyID)

	paid, err := env.payments.VerifyPayment(ctx, "u1", VerifyInput{
		IntentID:  res.Intent.ID,
		PaymentID: "pay_1",
		Signature: client.SignPayment(testKeySecret, res.Intent.ID, "pay_1"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, paid.Status)
	assert.Equal(t, "pay_1", paid.GatewayPaymentID)
	assert.True(t, paid.CartCleared)

	cart, err := env.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	assert.Equal(t, []string{event.OrderCreated, event.OrderPaid}, env.publisher.types())
	assert.NoError(t, testutil.GatherAndCompare(env.metrics.Registry(), strings.NewReader(`
# HELP payment_verifications_total Client payment verifications, by result
# TYPE payment_verifications_total counter
payment_verifications_total{result="ok"} 1
`), "payment_verifications_total"))
}

func TestVerifyIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.checkout(t, "u1")

	in := VerifyInput{
		IntentID:  order.IntentID(),
		PaymentID: "pay_1",
		Signature: client.SignPayment(testKeySecret, order.IntentID(), "pay_1"),
	}
	first, err := env.payments.VerifyPayment(ctx, "u1", in)
	require.NoError(t, err)

	// items added after payment must survive a repeated verify
	_, err = env.carts.AddItem(ctx, "u1", "C", 1)
	require.NoError(t, err)

	second, err := env.payments.VerifyPayment(ctx, "u1", in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.OrderStatusPaid, second.Status)

	cart, err := env.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "C", cart.Items[0].ProductID)

	assert.Equal(t, []string{event.OrderCreated, event.OrderPaid}, env.publisher.types())
}

func TestVerifyRequiresAllFields(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.payments.VerifyPayment(context.Background(), "u1", VerifyInput{IntentID: "order_x"})
	assert.ErrorIs(t, err, apperr.ErrMissingFields)
	assert.Contains(t, err.Error(), "payment_id")
	assert.Contains(t, err.Error(), "signature")
}

func TestVerifyBadSignatureFailsOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.checkout(t, "u1")

	_, err := env.payments.VerifyPayment(ctx, "u1", VerifyInput{
		IntentID:  order.IntentID(),
		PaymentID: "pay_1",
		Signature: client.SignPayment("wrong", order.IntentID(), "pay_1"),
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)

	got, err := env.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, got.Status)
	assert.Equal(t, "signature mismatch", got.Metadata.FailureReason)

	cart, err := env.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2, "cart is kept when payment fails")
}

func TestVerifyBadSignatureNeverDowngradesPaid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.checkout(t, "u1")

	_, err := env.payments.VerifyPayment(ctx, "u1", VerifyInput{
		IntentID:  order.IntentID(),
		PaymentID: "pay_1",
		Signature: client.SignPayment(testKeySecret, order.IntentID(), "pay_1"),
	})
	require.NoError(t, err)

	_, err = env.payments.VerifyPayment(ctx, "u1", VerifyInput{
		IntentID:  order.IntentID(),
		PaymentID: "pay_1",
		Signature: "deadbeef",
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)

	got, err := env.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, got.Status)
}

func TestVerifyUnknownIntentWithBadSignature(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.payments.VerifyPayment(context.Background(), "u1", VerifyInput{
		IntentID: "order_missing", PaymentID: "pay_1", Signature: "bad",
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)
}

func TestVerifyOtherUsersOrder(t *testing.T) {
	env := newTestEnv(t)
	order := env.checkout(t, "owner")

	_, err := env.payments.VerifyPayment(context.Background(), "intruder", VerifyInput{
		IntentID:  order.IntentID(),
		PaymentID: "pay_1",
		Signature: client.SignPayment(testKeySecret, order.IntentID(), "pay_1"),
	})
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.payments.CreateOrder(ctx, "u1", model.ShippingAddress{FullName: "Asha"})
	assert.ErrorIs(t, err, apperr.ErrMissingFields)

	_, err = env.payments.CreateOrder(ctx, "u1", testAddress)
	assert.ErrorIs(t, err, apperr.ErrEmptyCart)
	assert.Equal(t, 0, env.gateway.intents)
}

func TestCreateOrderIntentFailureLeavesOrderPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fillCart(t, "u1")
	env.gateway.intentErr = apperr.New(apperr.KindGatewayUnavailable, "payment gateway unavailable")

	res, err := env.payments.CreateOrder(ctx, "u1", testAddress)
	assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)
	require.NotNil(t, res)
	require.NotNil(t, res.Order)
	assert.Nil(t, res.Intent)

	got, err := env.orders.FindByID(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPendingPayment, got.Status)
	assert.Nil(t, got.GatewayIntentID)
	assert.Equal(t, string(apperr.KindGatewayUnavailable), got.Metadata.IntentError)

	cart, err := env.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.checkout(t, "u1")

	_, err := env.payments.CancelOrder(ctx, "intruder", order.ID)
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)

	cancelled, err := env.payments.CancelOrder(ctx, "u1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)

	again, err := env.payments.CancelOrder(ctx, "u1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, again.Status)

	assert.Equal(t, []string{event.OrderCreated, event.OrderCancelled}, env.publisher.types())

	_, err = env.payments.CancelOrder(ctx, "u1", "")
	assert.ErrorIs(t, err, apperr.ErrMissingFields)
}

func TestCancelPaidOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.checkout(t, "u1")

	_, err := env.payments.VerifyPayment(ctx, "u1", VerifyInput{
		IntentID:  order.IntentID(),
		PaymentID: "pay_1",
		Signature: client.SignPayment(testKeySecret, order.IntentID(), "pay_1"),
	})
	require.NoError(t, err)

	_, err = env.payments.CancelOrder(ctx, "u1", order.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func webhookBody(t *testing.T, eventName, intentID, paymentID string) []byte {
	t.Helper()
	b, err := json.Marshal(model.RazorpayWebhookEvent{
		Entity:   "event",
		Event:    eventName,
		Contains: []string{"payment"},
		Payload: model.RazorpayWebhookPayload{
			Payment: &model.RazorpayPaymentWrapper{Entity: model.RazorpayPaymentEntity{
				ID: paymentID, OrderID: intentID, Status: "captured", Amount: 650000, Currency: "INR",
			}},
		},
	})
	require.NoError(t, err)
	return b
}

func TestWebhookSettlesOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.checkout(t, "u1")

	// added after checkout; the webhook only removes what was ordered
	_, err := env.carts.AddItem(ctx, "u1", "C", 1)
	require.NoError(t, err)

	body := webhookBody(t, model.WebhookPaymentCaptured, order.IntentID(), "pay_wh")
	require.NoError(t, env.payments.HandleWebhook(ctx, "evt_1", signWebhook(body), body))

	got, err := env.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, got.Status)
	assert.Equal(t, "pay_wh", got.GatewayPaymentID)
	assert.Equal(t, model.SourceWebhook, got.Metadata.FinalizedBy)
	assert.True(t, got.CartCleared)

	cart, err := env.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "C", cart.Items[0].ProductID)
}

func TestWebhookDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.checkout(t, "u1")

	body := webhookBody(t, model.WebhookPaymentCaptured, order.IntentID(), "pay_wh")
	sig := signWebhook(body)
	require.NoError(t, env.payments.HandleWebhook(ctx, "evt_1", sig, body))
	require.NoError(t, env.payments.HandleWebhook(ctx, "evt_1", sig, body))

	// a different event for the same payment is still a no-op
	require.NoError(t, env.payments.HandleWebhook(ctx, "evt_2", sig, body))

	assert.Equal(t, []string{event.OrderCreated, event.OrderPaid}, env.publisher.types())
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	order := env.checkout(t, "u1")

	body := webhookBody(t, model.WebhookPaymentCaptured, order.IntentID(), "pay_wh")
	err := env.payments.HandleWebhook(context.Background(), "evt_1", "bad", body)
	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)

	got, err := env.orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPendingPayment, got.Status)
}

func TestWebhookIgnoresUnhandledAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.checkout(t, "u1")

	body := webhookBody(t, model.WebhookPaymentFailed, order.IntentID(), "pay_x")
	require.NoError(t, env.payments.HandleWebhook(ctx, "evt_f", signWebhook(body), body))

	got, err := env.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPendingPayment, got.Status)

	body = webhookBody(t, model.WebhookPaymentCaptured, "order_unknown", "pay_y")
	assert.NoError(t, env.payments.HandleWebhook(ctx, "evt_u", signWebhook(body), body))

	body = []byte("not json")
	assert.ErrorIs(t, env.payments.HandleWebhook(ctx, "evt_m", signWebhook(body), body), apperr.ErrMissingFields)
}

func TestClearFailureIsRetriedBySweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.checkout(t, "u1")

	env.carts.setFailing(true)
	paid, err := env.payments.VerifyPayment(ctx, "u1", VerifyInput{
		IntentID:  order.IntentID(),
		PaymentID: "pay_1",
		Signature: client.SignPayment(testKeySecret, order.IntentID(), "pay_1"),
	})
	require.NoError(t, err, "a failed cart clear does not fail the payment")
	assert.Equal(t, model.OrderStatusPaid, paid.Status)
	assert.False(t, paid.CartCleared)

	env.carts.setFailing(false)
	env.reconciler.now = shiftedClock(2 * time.Minute)

	report, err := env.reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CartsCleared)

	cart, err := env.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	got, err := env.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, got.CartCleared)
}

func TestListAllPayments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.checkout(t, "u1")
	env.checkout(t, "u2")

	_, err := env.payments.CancelOrder(ctx, "u1", first.ID)
	require.NoError(t, err)

	all, err := env.payments.ListAllPayments(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all.Orders, 2)
	assert.Equal(t, int64(1), all.ByStatus[model.OrderStatusCancelled])
	assert.Equal(t, int64(1), all.ByStatus[model.OrderStatusPendingPayment])

	cancelled, err := env.payments.ListAllPayments(ctx, model.OrderStatusCancelled, 10)
	require.NoError(t, err)
	require.Len(t, cancelled.Orders, 1)
	assert.Equal(t, first.ID, cancelled.Orders[0].ID)

	mine, err := env.payments.ListOrders(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
