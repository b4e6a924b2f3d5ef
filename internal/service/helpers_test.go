package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"

	"checkout-payments/internal/apperr"
	"checkout-payments/internal/client"
	"checkout-payments/internal/config"
	"checkout-payments/internal/event"
	"checkout-payments/internal/metrics"
	"checkout-payments/internal/model"
	"checkout-payments/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const (
	testKeySecret     = "key_secret"
	testWebhookSecret = "webhook_secret"
)

var testAddress = model.ShippingAddress{
	FullName:   "Asha Rao",
	Line1:      "12 MG Road",
	City:       "Bengaluru",
	PostalCode: "560001",
	Phone:      "9999999999",
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := client.OpenDatabase(config.Database{
		Driver: "sqlite",
		URL:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// fakeGateway stands in for Razorpay. Signatures are real HMACs so the
// service exercises the same comparison path as production.
type fakeGateway struct {
	mu        sync.Mutex
	intentErr error
	intents   int
	payments  map[string][]client.PaymentRecord
	fetchErr  map[string]error
	fetches   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		payments: make(map[string][]client.PaymentRecord),
		fetchErr: make(map[string]error),
	}
}

func (g *fakeGateway) KeyID() string { return "rzp_test_key" }

func (g *fakeGateway) CreateIntent(_ context.Context, amountMinor int64, currency, receipt string) (*client.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	if amountMinor <= 0 {
		return nil, apperr.ErrInvalidAmount
	}
	g.intents++
	return &client.Intent{
		ID:       fmt.Sprintf("order_test_%d", g.intents),
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (g *fakeGateway) VerifySignature(intentID, paymentID, signature string) bool {
	return hmac.Equal([]byte(client.SignPayment(testKeySecret, intentID, paymentID)), []byte(signature))
}

func (g *fakeGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	return hmac.Equal([]byte(signWebhook(body)), []byte(signature))
}

func (g *fakeGateway) FetchPaymentsForIntent(_ context.Context, intentID string) ([]client.PaymentRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if err := g.fetchErr[intentID]; err != nil {
		return nil, err
	}
	return g.payments[intentID], nil
}

func (g *fakeGateway) setPayments(intentID string, records ...client.PaymentRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[intentID] = records
}

func signWebhook(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt event.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// flakyCarts fails RemoveProducts and ClearCart while failing is set.
type flakyCarts struct {
	CartService
	mu      sync.Mutex
	failing bool
}

func (f *flakyCarts) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *flakyCarts) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("cart store down")
	}
	return nil
}

func (f *flakyCarts) ClearCart(ctx context.Context, userID string) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.CartService.ClearCart(ctx, userID)
}

func (f *flakyCarts) RemoveProducts(ctx context.Context, userID string, productIDs []string) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.CartService.RemoveProducts(ctx, userID, productIDs)
}

type testEnv struct {
	db         *gorm.DB
	log        *zap.Logger
	cartRepo   repository.CartRepository
	products   repository.ProductRepository
	orders     repository.OrderRepository
	carts      *flakyCarts
	gateway    *fakeGateway
	publisher  *recordingPublisher
	metrics    *metrics.Metrics
	payments   PaymentService
	reconciler *Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	log := zaptest.NewLogger(t)

	require.NoError(t, db.Create(&[]model.Product{
		{ID: "A", Name: "Product A", PriceMinor: 250000, Currency: "INR", Active: true},
		{ID: "B", Name: "Product B", PriceMinor: 150000, Currency: "INR", Active: true},
		{ID: "C", Name: "Product C", PriceMinor: 10000, Currency: "INR", Active: true},
	}).Error)

	env := &testEnv{
		db:        db,
		log:       log,
		cartRepo:  repository.NewCartRepository(db),
		products:  repository.NewProductRepository(db),
		orders:    repository.NewOrderRepository(db),
		gateway:   newFakeGateway(),
		publisher: &recordingPublisher{},
		metrics:   metrics.New(),
	}
	env.carts = &flakyCarts{CartService: NewCartService(env.cartRepo, env.products, nil, log)}

	snap := NewSnapshotter(env.carts, env.products, log)
	env.payments = NewPaymentService(
		snap, env.carts, env.gateway,
		env.orders, repository.NewWebhookEventRepository(db),
		env.publisher, env.metrics, log, "INR",
	)
	env.reconciler = NewReconciler(env.orders, env.gateway, env.carts, env.publisher, env.metrics, log, config.Reconcile{})
	return env
}

// fillCart puts A x2 and B x1 in the cart, 650000 in total.
func (e *testEnv) fillCart(t *testing.T, userID string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.carts.AddItem(ctx, userID, "A", 2)
	require.NoError(t, err)
	_, err = e.carts.AddItem(ctx, userID, "B", 1)
	require.NoError(t, err)
}

func (e *testEnv) checkout(t *testing.T, userID string) *model.Order {
	t.Helper()
	e.fillCart(t, userID)
	res, err := e.payments.CreateOrder(context.Background(), userID, testAddress)
	require.NoError(t, err)
	return res.Order
}
