package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	roomNoPattern = regexp.MustCompile(`^[A-H][1-4][0-8]{2}$`)
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Validate - общий валидатор с правилами room_no и order_email.
var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("room_no", func(fl validator.FieldLevel) bool {
		return ValidRoomNo(fl.Field().String())
	})
	_ = v.RegisterValidation("order_email", func(fl validator.FieldLevel) bool {
		return ValidEmail(fl.Field().String())
	})
	return v
}

// ValidRoomNo: буква корпуса A-H, этаж 1-4, две цифры комнаты 0-8.
func ValidRoomNo(s string) bool {
	return roomNoPattern.MatchString(s)
}

func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// MaxQuantity - наибольшее количество одного товара в заказе.
const MaxQuantity = 1000

// ParseQuantity принимает только целое число от 1 до MaxQuantity.
func ParseQuantity(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 || n > MaxQuantity {
		return 0, false
	}
	return n, true
}

// committable - полный черновик перед записью в базу.
type committable struct {
	ProductID uint   `validate:"required"`
	Quantity  int    `validate:"gt=0,lte=1000"`
	Email     string `validate:"order_email"`
	FullName  string
	Hall      string `validate:"required"`
	RoomNo    string `validate:"room_no"`
}
