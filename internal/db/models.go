package db

import "time"

type Product struct {
	ID          uint `gorm:"primaryKey"`
	Title       string
	Price       int64
	Description *string
}

// Order - оформленный заказ. После создания меняются только флаги оплаты и доставки.
type Order struct {
	ID             uint `gorm:"primaryKey"`
	UserID         int64
	ChatID         int64
	Username       string
	Email          *string
	FullName       *string
	Hall           string
	RoomNo         string
	Paid           bool
	Delivered      bool
	DeliveryDateID *uint
	DeliveryDate   *DeliveryDate `gorm:"constraint:OnDelete:SET NULL"`
	DraftToken     string        `gorm:"uniqueIndex"`
	RemindedAt     *time.Time
	CreatedAt      time.Time
	Items          []OrderItem `gorm:"constraint:OnDelete:CASCADE"`
	Receipt        *Receipt    `gorm:"constraint:OnDelete:CASCADE"`
}

type OrderItem struct {
	ID        uint `gorm:"primaryKey"`
	OrderID   uint
	ProductID uint
	Product   Product
	Quantity  int
}

type Receipt struct {
	ID             uint `gorm:"primaryKey"`
	OrderID        uint `gorm:"uniqueIndex"`
	TransactionRef string
	PaymentRef     string
	CreatedAt      time.Time
}

// DeliveryDate - единственная активная дата доставки.
type DeliveryDate struct {
	ID   uint `gorm:"primaryKey"`
	Date time.Time
}

// Total возвращает сумму заказа в основных единицах валюты.
func (o *Order) Total() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Product.Price * int64(item.Quantity)
	}
	return total
}

// DisplayName возвращает имя получателя, по умолчанию - username.
func (o *Order) DisplayName() string {
	if o.FullName != nil && *o.FullName != "" {
		return *o.FullName
	}
	return o.Username
}
