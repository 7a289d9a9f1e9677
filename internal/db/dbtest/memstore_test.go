package dbtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"campus-order-bot/internal/db"
)

func TestMemStoreDeleteCascades(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	p := m.AddProduct("Indomie", 500)
	order := &db.Order{UserID: 1, DraftToken: "t1", Items: []db.OrderItem{{ProductID: p.ID, Quantity: 3}}}
	if err := m.CreateOrder(ctx, order); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := m.MarkPaid(ctx, order.ID, "trx", "ref"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	if err := m.DeleteOrder(ctx, order.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if items := m.Items(order.ID); len(items) != 0 {
		t.Errorf("items survived delete: %v", items)
	}
	if m.Receipts(order.ID) != 0 {
		t.Error("receipt survived delete")
	}
	if err := m.DeleteOrder(ctx, order.ID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("second delete: got %v, want db.ErrNotFound", err)
	}
}

func TestMemStoreDuplicateDraftToken(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	if err := m.CreateOrder(ctx, &db.Order{DraftToken: "same"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := m.CreateOrder(ctx, &db.Order{DraftToken: "same"}); !errors.Is(err, db.ErrDuplicate) {
		t.Errorf("second create: got %v, want db.ErrDuplicate", err)
	}
}

func TestMemStoreDeliveryDate(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	today := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	if _, err := m.SetDeliveryDate(ctx, today.AddDate(0, 0, -1), today); !errors.Is(err, db.ErrDeliveryDateInPast) {
		t.Fatalf("past date: got %v", err)
	}
	if _, err := m.SetDeliveryDate(ctx, today, today); err != nil {
		t.Fatalf("today: %v", err)
	}
	second, err := m.SetDeliveryDate(ctx, today.AddDate(0, 0, 2), today)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	current, err := m.CurrentDeliveryDate(ctx)
	if err != nil || current.ID != second.ID {
		t.Fatalf("current: got %+v, %v", current, err)
	}

	n, _ := m.ExpireDeliveryDates(ctx, today.AddDate(0, 0, 3))
	if n != 1 {
		t.Errorf("expired: got %d, want 1", n)
	}
	if _, err := m.CurrentDeliveryDate(ctx); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("after expiry: got %v", err)
	}
}
