package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"campus-order-bot/internal/db"
	"campus-order-bot/internal/logger"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	WebhookPath     = "/paystack/webhook"
	OrderDetailPath = "/orders/:id"
	signatureHeader = "x-paystack-signature"
)

// checkPaystackSignature сверяет HMAC-SHA512 тела запроса с заголовком x-paystack-signature.
func checkPaystackSignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	h := hmac.New(sha512.New, []byte(secret))
	h.Write(body)
	calc := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(calc))
}

// HTTPHandler - входящие HTTP-запросы от Paystack и внешних страниц.
type HTTPHandler struct {
	checkout *Checkout
	store    Store
	secret   string
}

func NewHTTPHandler(checkout *Checkout, store Store, secret string) *HTTPHandler {
	return &HTTPHandler{checkout: checkout, store: store, secret: secret}
}

func (h *HTTPHandler) Register(e *echo.Echo) {
	e.GET(CallbackPath, h.PaystackCallback)
	e.POST(WebhookPath, h.PaystackWebhook)
	e.GET(OrderDetailPath, h.OrderDetail)
}

type callbackQuery struct {
	Reference string `query:"reference" validate:"required"`
	Trxref    string `query:"trxref" validate:"required"`
	OrderID   uint   `query:"order_id" validate:"required"`
}

func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"status": "error", "message": msg})
}

// PaystackCallback - страница, на которую шлюз возвращает пользователя после оплаты.
func (h *HTTPHandler) PaystackCallback(c echo.Context) error {
	defer logger.NotifyOnPanic("PaystackCallback")
	var q callbackQuery
	if err := c.Bind(&q); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request.")
	}
	if err := Validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		errors.As(err, &verrs)
		for _, fe := range verrs {
			if fe.Field() != "OrderID" {
				return jsonError(c, http.StatusBadRequest, "Missing reference or trxref.")
			}
		}
		return jsonError(c, http.StatusBadRequest, "Missing order_id.")
	}

	ctx := c.Request().Context()
	order, err := h.checkout.Confirm(ctx, q.OrderID, q.Trxref, q.Reference)
	var gerr *GatewayError
	switch {
	case err == nil:
		return render(c, http.StatusOK, successPage, newOrderView(order))
	case errors.Is(err, ErrOrderNotFound):
		return jsonError(c, http.StatusNotFound, "Order not found.")
	case errors.As(err, &gerr):
		return render(c, http.StatusOK, failedPage, failedView{Message: gerr.Message, Reference: q.Reference})
	default:
		return render(c, http.StatusBadGateway, failedPage, failedView{Message: "Unknown error occurred.", Reference: q.Reference})
	}
}

// flexibleID принимает order_id и числом, и строкой: Paystack возвращает metadata как есть.
type flexibleID uint

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("order_id %q: %w", s, err)
	}
	*f = flexibleID(n)
	return nil
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Metadata  struct {
			OrderID flexibleID `json:"order_id"`
		} `json:"metadata"`
	} `json:"data"`
}

// PaystackWebhook обрабатывает серверные уведомления Paystack.
func (h *HTTPHandler) PaystackWebhook(c echo.Context) error {
	defer logger.NotifyOnPanic("PaystackWebhook")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		logger.NotifyAdmin("Ошибка чтения тела webhook: " + err.Error())
		return c.NoContent(http.StatusBadRequest)
	}
	if !checkPaystackSignature(h.secret, body, c.Request().Header.Get(signatureHeader)) {
		logger.NotifyAdmin("Недействительная подпись webhook")
		return c.String(http.StatusUnauthorized, "invalid signature")
	}

	var event paystackEvent
	if err := json.Unmarshal(body, &event); err != nil {
		logger.NotifyAdmin("Ошибка парсинга webhook: " + err.Error())
		return c.NoContent(http.StatusBadRequest)
	}
	if event.Event != "charge.success" {
		// интересуют только успешные платежи
		return c.NoContent(http.StatusOK)
	}
	orderID := uint(event.Data.Metadata.OrderID)
	if orderID == 0 {
		logger.NotifyAdmin("Webhook без order_id, reference=" + event.Data.Reference)
		return c.NoContent(http.StatusOK)
	}

	_, err = h.checkout.Finalize(c.Request().Context(), orderID, event.Data.Reference, event.Data.Reference)
	switch {
	case errors.Is(err, ErrOrderNotFound):
		logger.NotifyAdmin(fmt.Sprintf("Оплачен несуществующий заказ #%d, reference=%s", orderID, event.Data.Reference))
		return c.NoContent(http.StatusOK)
	case err != nil:
		// 5xx: Paystack повторит доставку
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusOK)
}

type productView struct {
	Title string `json:"title"`
}

type itemView struct {
	Product  productView `json:"product"`
	Quantity int         `json:"quantity"`
}

type orderView struct {
	ID           uint       `json:"id"`
	FullName     string     `json:"full_name"`
	Hall         string     `json:"hall"`
	RoomNo       string     `json:"room_no"`
	DeliveryDate *string    `json:"delivery_date"`
	Items        []itemView `json:"items"`
}

func newOrderView(o *db.Order) orderView {
	v := orderView{
		ID:       o.ID,
		FullName: o.DisplayName(),
		Hall:     o.Hall,
		RoomNo:   o.RoomNo,
		Items:    make([]itemView, 0, len(o.Items)),
	}
	if o.DeliveryDate != nil {
		d := o.DeliveryDate.Date.Format(time.DateOnly)
		v.DeliveryDate = &d
	}
	for _, item := range o.Items {
		v.Items = append(v.Items, itemView{Product: productView{Title: item.Product.Title}, Quantity: item.Quantity})
	}
	return v
}

// OrderDetail отдаёт заказ в JSON для страницы статуса доставки.
func (h *HTTPHandler) OrderDetail(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return jsonError(c, http.StatusBadRequest, "Invalid order id.")
	}
	order, err := h.store.GetOrder(c.Request().Context(), uint(id))
	if errors.Is(err, db.ErrNotFound) {
		return jsonError(c, http.StatusNotFound, "Order not found.")
	}
	if err != nil {
		logger.Error("get order failed", zap.Uint64("order_id", id), zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "Internal error.")
	}
	return c.JSON(http.StatusOK, newOrderView(order))
}

type failedView struct {
	Message   string
	Reference string
}

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Payment successful</title></head>
<body>
<h1>Payment successful</h1>
<p>Order #{{.ID}} for {{.FullName}}, {{.Hall}} hall, room {{.RoomNo}}.</p>
{{if .DeliveryDate}}<p>Delivery date: {{.DeliveryDate}}</p>{{end}}
<ul>{{range .Items}}<li>{{.Product.Title}} x {{.Quantity}}</li>{{end}}</ul>
</body></html>`))

var failedPage = template.Must(template.New("failed").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Payment failed</title></head>
<body>
<h1>Payment failed</h1>
<p>{{.Message}}</p>
{{if .Reference}}<p>Reference: {{.Reference}}</p>{{end}}
</body></html>`))

func render(c echo.Context, status int, tmpl *template.Template, data interface{}) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}
	return c.HTMLBlob(status, buf.Bytes())
}
