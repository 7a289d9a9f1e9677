package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Stats struct {
	Orders      int64
	PaidOrders  int64
	PaidRevenue int64
}

// Store - реализация хранилища каталога и заказов поверх gorm/Postgres.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := s.db.WithContext(ctx).Order("id").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id uint) (*Product, error) {
	var product Product
	if err := s.db.WithContext(ctx).First(&product, id).Error; err != nil {
		return nil, translate(err)
	}
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product *Product) error {
	return translate(s.db.WithContext(ctx).Create(product).Error)
}

// CreateOrder создаёт заказ и его позиции в одной транзакции.
// Повторный draft_token даёт ErrDuplicate.
func (s *Store) CreateOrder(ctx context.Context, order *Order) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(order).Error; err != nil {
			return translate(err)
		}
		for i := range order.Items {
			order.Items[i].OrderID = order.ID
			if err := tx.Omit("Product").Create(&order.Items[i]).Error; err != nil {
				return translate(err)
			}
		}
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, id uint) (*Order, error) {
	var order Order
	err := s.db.WithContext(ctx).
		Preload("Items.Product").
		Preload("Receipt").
		Preload("DeliveryDate").
		First(&order, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (s *Store) ListOrders(ctx context.Context, userID int64, paid bool) ([]Order, error) {
	var orders []Order
	err := s.db.WithContext(ctx).
		Preload("Items.Product").
		Preload("Receipt").
		Where("user_id = ? AND paid = ?", userID, paid).
		Order("id").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// DeleteOrder удаляет заказ вместе с позициями и квитанцией.
func (s *Store) DeleteOrder(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", id).Delete(&OrderItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", id).Delete(&Receipt{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Order{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// MarkPaid атомарно ставит флаг оплаты и создаёт квитанцию (get-or-create по заказу).
// Второй результат true только при первом переходе paid false -> true.
func (s *Store) MarkPaid(ctx context.Context, orderID uint, trxref, reference string) (*Order, bool, error) {
	newlyPaid, err := s.markPaid(ctx, orderID, trxref, reference)
	if err != nil {
		return nil, false, err
	}
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	return order, newlyPaid, nil
}

func (s *Store) markPaid(ctx context.Context, orderID uint, trxref, reference string) (bool, error) {
	var newlyPaid bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, orderID).Error; err != nil {
			return translate(err)
		}
		if !order.Paid {
			if err := tx.Model(&order).Update("paid", true).Error; err != nil {
				return err
			}
			newlyPaid = true
		}
		receipt := Receipt{}
		return tx.Where(Receipt{OrderID: order.ID}).
			Attrs(Receipt{TransactionRef: trxref, PaymentRef: reference}).
			FirstOrCreate(&receipt).Error
	})
	return newlyPaid, err
}

func (s *Store) MarkDelivered(ctx context.Context, orderID uint) error {
	res := s.db.WithContext(ctx).Model(&Order{}).Where("id = ?", orderID).Update("delivered", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CurrentDeliveryDate(ctx context.Context) (*DeliveryDate, error) {
	var date DeliveryDate
	if err := s.db.WithContext(ctx).Order("id").First(&date).Error; err != nil {
		return nil, translate(err)
	}
	return &date, nil
}

// SetDeliveryDate заменяет единственную дату доставки. Дата в прошлом отклоняется.
func (s *Store) SetDeliveryDate(ctx context.Context, date, today time.Time) (*DeliveryDate, error) {
	if DateOnly(date).Before(DateOnly(today)) {
		return nil, ErrDeliveryDateInPast
	}
	dd := DeliveryDate{Date: DateOnly(date)}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&DeliveryDate{}).Error; err != nil {
			return err
		}
		return translate(tx.Create(&dd).Error)
	})
	if err != nil {
		return nil, err
	}
	return &dd, nil
}

// ExpireDeliveryDates удаляет прошедшие даты доставки.
func (s *Store) ExpireDeliveryDates(ctx context.Context, today time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("date < ?", DateOnly(today)).Delete(&DeliveryDate{})
	return res.RowsAffected, res.Error
}

// UnpaidOrdersBefore возвращает неоплаченные заказы старше before, о которых ещё не напоминали.
func (s *Store) UnpaidOrdersBefore(ctx context.Context, before time.Time) ([]Order, error) {
	var orders []Order
	err := s.db.WithContext(ctx).
		Where("paid = false AND reminded_at IS NULL AND created_at < ?", before).
		Order("id").
		Find(&orders).Error
	return orders, err
}

func (s *Store) MarkReminded(ctx context.Context, orderID uint, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Order{}).Where("id = ?", orderID).Update("reminded_at", at).Error
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&Order{}).Count(&st.Orders).Error; err != nil {
		return st, err
	}
	if err := db.Model(&Order{}).Where("paid = true").Count(&st.PaidOrders).Error; err != nil {
		return st, err
	}
	err := db.Raw(`SELECT COALESCE(SUM(p.price * oi.quantity), 0)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN products p ON p.id = oi.product_id
		WHERE o.paid = true`).Scan(&st.PaidRevenue).Error
	return st, err
}

// DateOnly отбрасывает время суток.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
