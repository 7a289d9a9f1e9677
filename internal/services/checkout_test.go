package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"campus-order-bot/internal/db"
	"campus-order-bot/internal/db/dbtest"
)

type checkoutFixture struct {
	store    *dbtest.MemStore
	gateway  *fakeGateway
	notifier *fakeNotifier
	events   *fakePublisher
	metrics  *fakeRecorder
	c        *Checkout
}

func newCheckoutFixture() *checkoutFixture {
	f := &checkoutFixture{
		store:    dbtest.NewMemStore(),
		gateway:  &fakeGateway{initURL: "https://checkout.paystack.com/abc"},
		notifier: &fakeNotifier{},
		events:   &fakePublisher{},
		metrics:  &fakeRecorder{},
	}
	f.c = NewCheckout(f.store, f.gateway, CheckoutConfig{
		WebsiteLink:  "https://shop.example.com",
		DefaultEmail: "orders@shop.example.com",
	}, f.notifier, f.events, f.metrics)
	return f
}

func (f *checkoutFixture) order(t *testing.T, userID int64, email string, items ...db.OrderItem) *db.Order {
	t.Helper()
	o := &db.Order{UserID: userID, ChatID: userID, Username: "ada", Hall: "Paul", RoomNo: "A101", Items: items}
	o.DraftToken = t.Name() + string(rune('a'+f.store.OrderCount()))
	if email != "" {
		o.Email = &email
	}
	if err := f.store.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func TestInitiateComputesTotal(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	a := f.store.AddProduct("Indomie", 500)
	b := f.store.AddProduct("Eggs", 1200)
	o := f.order(t, 1, "ada@example.com",
		db.OrderItem{ProductID: a.ID, Quantity: 2},
		db.OrderItem{ProductID: b.ID, Quantity: 2})

	inv, err := f.c.Initiate(ctx, 1, o.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if inv.Total != 3400 {
		t.Errorf("total: got %d, want 3400", inv.Total)
	}
	if inv.URL != f.gateway.initURL {
		t.Errorf("url: %q", inv.URL)
	}
	req := f.gateway.initReqs[0]
	if req.Amount != 340000 || req.Email != "ada@example.com" || req.OrderID != o.ID {
		t.Errorf("initialize request: %+v", req)
	}
	if !strings.HasPrefix(req.CallbackURL, "https://shop.example.com/paystack/callback/?order_id=") {
		t.Errorf("callback url: %q", req.CallbackURL)
	}

	got, _ := f.store.GetOrder(ctx, o.ID)
	if got.Paid {
		t.Error("initiate marked order paid")
	}
}

func TestInitiateDefaultEmail(t *testing.T) {
	f := newCheckoutFixture()
	p := f.store.AddProduct("Indomie", 500)
	o := f.order(t, 1, "", db.OrderItem{ProductID: p.ID, Quantity: 1})

	if _, err := f.c.Initiate(context.Background(), 1, o.ID); err != nil {
		t.Fatal(err)
	}
	if f.gateway.initReqs[0].Email != "orders@shop.example.com" {
		t.Errorf("email: %q", f.gateway.initReqs[0].Email)
	}
}

func TestInitiateErrors(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	p := f.store.AddProduct("Indomie", 500)
	o := f.order(t, 1, "", db.OrderItem{ProductID: p.ID, Quantity: 1})

	if _, err := f.c.Initiate(ctx, 1, 999); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("missing order: %v", err)
	}
	if _, err := f.c.Initiate(ctx, 2, o.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("foreign order: %v", err)
	}

	f.gateway.initErr = &GatewayError{Op: "initialize", Message: "Invalid key"}
	_, err := f.c.Initiate(ctx, 1, o.ID)
	var gerr *GatewayError
	if !errors.As(err, &gerr) || gerr.Message != "Invalid key" {
		t.Errorf("gateway error: %v", err)
	}
	if len(f.metrics.gatewayErrors) != 1 {
		t.Errorf("gateway errors recorded: %v", f.metrics.gatewayErrors)
	}

	f.gateway.initErr = nil
	if _, err := f.c.Finalize(ctx, o.ID, "trx", "ref"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.Initiate(ctx, 1, o.ID); !errors.Is(err, ErrOrderAlreadyPaid) {
		t.Errorf("paid order: %v", err)
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	p := f.store.AddProduct("Indomie", 500)
	o := f.order(t, 1, "", db.OrderItem{ProductID: p.ID, Quantity: 2})

	for i := 0; i < 2; i++ {
		got, err := f.c.Finalize(ctx, o.ID, "trx-1", "ref-1")
		if err != nil {
			t.Fatalf("finalize #%d: %v", i+1, err)
		}
		if !got.Paid {
			t.Errorf("finalize #%d: order not paid", i+1)
		}
	}
	if n := f.store.Receipts(o.ID); n != 1 {
		t.Errorf("receipts: got %d, want 1", n)
	}
	if len(f.notifier.sent) != 1 {
		t.Errorf("notifications: got %d, want 1", len(f.notifier.sent))
	}
	if len(f.events.events) != 1 || f.events.events[0].topic != TopicOrderPaid {
		t.Errorf("events: %+v", f.events.events)
	}
	if f.metrics.paid != 1 {
		t.Errorf("paid metric: %d", f.metrics.paid)
	}
}

func TestFinalizeUnknownOrder(t *testing.T) {
	f := newCheckoutFixture()
	if _, err := f.c.Finalize(context.Background(), 42, "t", "r"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("got %v", err)
	}
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	p := f.store.AddProduct("Indomie", 500)
	o := f.order(t, 1, "", db.OrderItem{ProductID: p.ID, Quantity: 1})

	f.gateway.verify = &Verification{Status: "failed", Message: "Declined"}
	_, err := f.c.Confirm(ctx, o.ID, "trx", "ref")
	var gerr *GatewayError
	if !errors.As(err, &gerr) || gerr.Message != "Declined" {
		t.Fatalf("failed verification: %v", err)
	}
	got, _ := f.store.GetOrder(ctx, o.ID)
	if got.Paid || f.store.Receipts(o.ID) != 0 {
		t.Error("failed verification changed order state")
	}

	f.gateway.verify = nil
	f.gateway.verifyErr = &GatewayError{Op: "verify", Message: "Transaction reference not found"}
	if _, err := f.c.Confirm(ctx, o.ID, "trx", "ref"); !errors.As(err, &gerr) {
		t.Fatalf("verify error: %v", err)
	}

	f.gateway.verifyErr = nil
	f.gateway.verify = &Verification{Status: "success", Amount: 50000, OrderID: o.ID}
	paid, err := f.c.Confirm(ctx, o.ID, "trx", "ref")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !paid.Paid || paid.Receipt == nil || paid.Receipt.TransactionRef != "trx" {
		t.Errorf("paid order: %+v", paid)
	}
}

func TestRemoveOrder(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	p := f.store.AddProduct("Indomie", 500)
	o := f.order(t, 1, "", db.OrderItem{ProductID: p.ID, Quantity: 1})

	if err := f.c.Remove(ctx, 2, o.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("foreign remove: %v", err)
	}
	if err := f.c.Remove(ctx, 1, o.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if items := f.store.Items(o.ID); len(items) != 0 {
		t.Errorf("items left after remove: %v", items)
	}
	if err := f.c.Remove(ctx, 1, o.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("second remove: %v", err)
	}
}

func TestListsAndReceiptURL(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	p := f.store.AddProduct("Indomie", 500)
	unpaid := f.order(t, 1, "", db.OrderItem{ProductID: p.ID, Quantity: 1})
	paid := f.order(t, 1, "", db.OrderItem{ProductID: p.ID, Quantity: 1})
	f.order(t, 2, "", db.OrderItem{ProductID: p.ID, Quantity: 1})
	if _, err := f.c.Finalize(ctx, paid.ID, "trx 1", "ref&1"); err != nil {
		t.Fatal(err)
	}

	list, _ := f.c.ListUnpaid(ctx, 1)
	if len(list) != 1 || list[0].ID != unpaid.ID {
		t.Errorf("unpaid: %+v", list)
	}
	paidList, _ := f.c.ListPaid(ctx, 1)
	if len(paidList) != 1 || paidList[0].ID != paid.ID {
		t.Fatalf("paid: %+v", paidList)
	}
	want := fmt.Sprintf("https://shop.example.com/paystack/callback/?order_id=%d&reference=ref%%261&trxref=trx+1", paid.ID)
	if paidList[0].ReceiptURL != want {
		t.Errorf("receipt url:\n got %s\nwant %s", paidList[0].ReceiptURL, want)
	}
	if f.c.ReceiptURL(unpaid) != "" {
		t.Error("receipt url for unpaid order")
	}
}

func TestConfirmRejectsMismatchedTransaction(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	cheap := f.store.AddProduct("Sachet", 1)
	pricey := f.store.AddProduct("Fridge", 500000)
	small := f.order(t, 1, "", db.OrderItem{ProductID: cheap.ID, Quantity: 1})
	big := f.order(t, 1, "", db.OrderItem{ProductID: pricey.ID, Quantity: 1})

	tests := []struct {
		desc   string
		verify *Verification
	}{
		{"reference of another order", &Verification{Status: "success", Amount: 100, OrderID: small.ID}},
		{"amount below total", &Verification{Status: "success", Amount: 100}},
		{"amount one kobo short", &Verification{Status: "success", Amount: 50000000 - 1, OrderID: big.ID}},
	}
	for _, tt := range tests {
		f.gateway.verify = tt.verify
		_, err := f.c.Confirm(ctx, big.ID, "T1", "T1")
		var gerr *GatewayError
		if !errors.As(err, &gerr) {
			t.Errorf("%s: got %v, want GatewayError", tt.desc, err)
		}
		got, _ := f.store.GetOrder(ctx, big.ID)
		if got.Paid || f.store.Receipts(big.ID) != 0 {
			t.Errorf("%s: order marked paid", tt.desc)
		}
	}

	f.gateway.verify = &Verification{Status: "success", Amount: 50000000, OrderID: big.ID}
	if _, err := f.c.Confirm(ctx, big.ID, "T2", "T2"); err != nil {
		t.Fatalf("exact amount: %v", err)
	}
	if len(f.notifier.sent) != 1 {
		t.Errorf("notifications: %d", len(f.notifier.sent))
	}
}

func TestConfirmUnknownOrderSkipsGateway(t *testing.T) {
	f := newCheckoutFixture()
	f.gateway.verify = &Verification{Status: "success"}
	if _, err := f.c.Confirm(context.Background(), 404, "t", "r"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("got %v", err)
	}
	if f.gateway.verifyCalls != 0 {
		t.Errorf("gateway called for unknown order")
	}
}
