package dbtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"campus-order-bot/internal/db"
)

// MemStore - хранилище в памяти с семантикой db.Store для тестов сервисов и бота.
type MemStore struct {
	mu           sync.Mutex
	nextID       uint
	products     map[uint]db.Product
	orders       map[uint]db.Order
	items        map[uint]db.OrderItem
	receipts     map[uint]db.Receipt
	deliveryDate *db.DeliveryDate

	// CreateOrderErr, если задан, возвращается из CreateOrder.
	CreateOrderErr error
}

func NewMemStore() *MemStore {
	return &MemStore{
		products: make(map[uint]db.Product),
		orders:   make(map[uint]db.Order),
		items:    make(map[uint]db.OrderItem),
		receipts: make(map[uint]db.Receipt),
	}
}

func (m *MemStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *MemStore) ListProducts(ctx context.Context) ([]db.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) GetProduct(ctx context.Context, id uint) (*db.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &p, nil
}

func (m *MemStore) CreateProduct(ctx context.Context, product *db.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	product.ID = m.id()
	m.products[product.ID] = *product
	return nil
}

// AddProduct - короткий помощник для тестов.
func (m *MemStore) AddProduct(title string, price int64) db.Product {
	p := db.Product{Title: title, Price: price}
	_ = m.CreateProduct(context.Background(), &p)
	return p
}

func (m *MemStore) CreateOrder(ctx context.Context, order *db.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateOrderErr != nil {
		return m.CreateOrderErr
	}
	for _, o := range m.orders {
		if o.DraftToken == order.DraftToken {
			return db.ErrDuplicate
		}
	}
	order.ID = m.id()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	stored := *order
	stored.Items = nil
	stored.Receipt = nil
	stored.DeliveryDate = nil
	m.orders[order.ID] = stored
	for i := range order.Items {
		order.Items[i].ID = m.id()
		order.Items[i].OrderID = order.ID
		item := order.Items[i]
		item.Product = db.Product{}
		m.items[item.ID] = item
	}
	return nil
}

func (m *MemStore) GetOrder(ctx context.Context, id uint) (*db.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(id)
}

func (m *MemStore) loadLocked(id uint) (*db.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	o.Items = m.itemsLocked(id)
	if r, ok := m.receipts[id]; ok {
		o.Receipt = &r
	}
	if o.DeliveryDateID != nil && m.deliveryDate != nil && m.deliveryDate.ID == *o.DeliveryDateID {
		dd := *m.deliveryDate
		o.DeliveryDate = &dd
	}
	return &o, nil
}

func (m *MemStore) itemsLocked(orderID uint) []db.OrderItem {
	var out []db.OrderItem
	for _, item := range m.items {
		if item.OrderID == orderID {
			item.Product = m.products[item.ProductID]
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemStore) ListOrders(ctx context.Context, userID int64, paid bool) ([]db.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Order
	for id, o := range m.orders {
		if o.UserID == userID && o.Paid == paid {
			full, _ := m.loadLocked(id)
			out = append(out, *full)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Items возвращает все позиции заказа, включая «осиротевшие».
func (m *MemStore) Items(orderID uint) []db.OrderItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.itemsLocked(orderID)
}

// Receipts возвращает число квитанций заказа.
func (m *MemStore) Receipts(orderID uint) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.receipts[orderID]; ok {
		return 1
	}
	return 0
}

// OrderCount возвращает общее число заказов.
func (m *MemStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *MemStore) DeleteOrder(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.orders, id)
	delete(m.receipts, id)
	for itemID, item := range m.items {
		if item.OrderID == id {
			delete(m.items, itemID)
		}
	}
	return nil
}

func (m *MemStore) MarkPaid(ctx context.Context, orderID uint, trxref, reference string) (*db.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, false, db.ErrNotFound
	}
	newlyPaid := !o.Paid
	o.Paid = true
	m.orders[orderID] = o
	if _, ok := m.receipts[orderID]; !ok {
		m.receipts[orderID] = db.Receipt{
			ID:             m.id(),
			OrderID:        orderID,
			TransactionRef: trxref,
			PaymentRef:     reference,
			CreatedAt:      time.Now(),
		}
	}
	full, err := m.loadLocked(orderID)
	return full, newlyPaid, err
}

func (m *MemStore) MarkDelivered(ctx context.Context, orderID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	o.Delivered = true
	m.orders[orderID] = o
	return nil
}

func (m *MemStore) CurrentDeliveryDate(ctx context.Context) (*db.DeliveryDate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deliveryDate == nil {
		return nil, db.ErrNotFound
	}
	dd := *m.deliveryDate
	return &dd, nil
}

func (m *MemStore) SetDeliveryDate(ctx context.Context, date, today time.Time) (*db.DeliveryDate, error) {
	if db.DateOnly(date).Before(db.DateOnly(today)) {
		return nil, db.ErrDeliveryDateInPast
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveryDate = &db.DeliveryDate{ID: m.id(), Date: db.DateOnly(date)}
	dd := *m.deliveryDate
	return &dd, nil
}

func (m *MemStore) ExpireDeliveryDates(ctx context.Context, today time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deliveryDate != nil && m.deliveryDate.Date.Before(db.DateOnly(today)) {
		m.deliveryDate = nil
		return 1, nil
	}
	return 0, nil
}

func (m *MemStore) UnpaidOrdersBefore(ctx context.Context, before time.Time) ([]db.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Order
	for _, o := range m.orders {
		if !o.Paid && o.RemindedAt == nil && o.CreatedAt.Before(before) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) MarkReminded(ctx context.Context, orderID uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	o.RemindedAt = &at
	m.orders[orderID] = o
	return nil
}

func (m *MemStore) Stats(ctx context.Context) (db.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st db.Stats
	for id, o := range m.orders {
		st.Orders++
		if o.Paid {
			st.PaidOrders++
			for _, item := range m.itemsLocked(id) {
				st.PaidRevenue += item.Product.Price * int64(item.Quantity)
			}
		}
	}
	return st, nil
}
