package checkout

import (
	"fmt"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// DefaultChannelURL — куда уходит сообщение с заказом.
const DefaultChannelURL = "https://t.me/"

// DeliveryMethod — способ доставки.
type DeliveryMethod string

const (
	DeliveryCourier DeliveryMethod = "courier"
	DeliveryPickup  DeliveryMethod = "pickup"
)

// PaymentMethod — способ оплаты.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

// Form — данные формы оформления заказа.
type Form struct {
	Name     string         `json:"name"`
	Phone    string         `json:"phone"`
	Email    string         `json:"email"`
	Address  string         `json:"address"`
	Comment  string         `json:"comment"`
	Delivery DeliveryMethod `json:"deliveryMethod"`
	Payment  PaymentMethod  `json:"paymentMethod"`
}

// Normalize обрезает пробелы и подставляет способы доставки и оплаты по умолчанию.
func (f Form) Normalize() Form {
	f.Name = strings.TrimSpace(f.Name)
	f.Phone = strings.TrimSpace(f.Phone)
	f.Email = strings.TrimSpace(f.Email)
	f.Address = strings.TrimSpace(f.Address)
	f.Comment = strings.TrimSpace(f.Comment)
	if f.Delivery == "" {
		f.Delivery = DeliveryCourier
	}
	if f.Payment == "" {
		f.Payment = PaymentCash
	}
	return f
}

// Validate проверяет обязательные поля. Адрес обязателен только для курьерской доставки.
func (f Form) Validate() error {
	switch f.Delivery {
	case DeliveryCourier, DeliveryPickup:
	default:
		return fmt.Errorf("%w: deliveryMethod %q", domain.ErrCheckoutOptionInvalid, f.Delivery)
	}
	switch f.Payment {
	case PaymentCash, PaymentCard:
	default:
		return fmt.Errorf("%w: paymentMethod %q", domain.ErrCheckoutOptionInvalid, f.Payment)
	}

	required := []struct {
		name  string
		value string
	}{
		{"name", f.Name},
		{"phone", f.Phone},
		{"email", f.Email},
	}
	if f.Delivery == DeliveryCourier {
		required = append(required, struct {
			name  string
			value string
		}{"address", f.Address})
	}
	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("%w: %s", domain.ErrCheckoutFieldRequired, field.name)
		}
	}
	return nil
}

// CartHandle — то, что нужно оформлению от корзины сессии.
type CartHandle interface {
	Cart() domain.Cart
	ClearCart()
}

// Result — итог оформления: текст заказа и ссылка для передачи его менеджеру.
type Result struct {
	Message       string `json:"message"`
	URL           string `json:"url"`
	TotalQuantity int64  `json:"totalQuantity"`
	TotalPrice    int64  `json:"totalPrice"`
}

// Service превращает корзину в сообщение с заказом и очищает её.
type Service struct {
	channelURL string
	formatter  PriceFormatter
	publisher  kafka.EventPublisher
	topic      string
	logger     *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithChannelURL задаёт базовый адрес канала.
func WithChannelURL(channelURL string) Option {
	return func(s *Service) {
		if channelURL != "" {
			s.channelURL = channelURL
		}
	}
}

// WithPriceFormatter задаёт форматирование цен.
func WithPriceFormatter(formatter PriceFormatter) Option {
	return func(s *Service) {
		s.formatter = formatter
	}
}

// WithEventPublisher публикует событие оформления в topic.
func WithEventPublisher(publisher kafka.EventPublisher, topic string) Option {
	return func(s *Service) {
		s.publisher = publisher
		if topic != "" {
			s.topic = topic
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService создаёт сервис оформления.
func NewService(options ...Option) *Service {
	s := &Service{
		channelURL: DefaultChannelURL,
		topic:      kafka.TopicCartEvents,
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "checkout")
	}
	return s
}

// Submit проверяет форму, собирает сообщение по текущей корзине и очищает корзину.
// Пустая корзина возвращает ErrCartEmpty и ничего не меняет.
func (s *Service) Submit(sessionID string, handle CartHandle, form Form) (Result, error) {
	form = form.Normalize()
	if err := form.Validate(); err != nil {
		return Result{}, err
	}

	cart := handle.Cart()
	if cart.IsEmpty() {
		return Result{}, domain.ErrCartEmpty
	}

	message := s.RenderMessage(cart, form)
	result := Result{
		Message:       message,
		URL:           s.channelURL + "?text=" + encodeURIComponent(message),
		TotalQuantity: cart.TotalQuantity,
		TotalPrice:    cart.TotalPrice,
	}

	s.logger.WithFields(log.Fields{
		"session_id":     sessionID,
		"total_items":    cart.TotalQuantity,
		"total_price":    cart.TotalPrice,
		"delivery":       form.Delivery,
		"payment_method": form.Payment,
	}).Info("checkout submitted")

	if s.publisher != nil {
		event := kafka.NewCheckoutEvent(sessionID, cart.TotalQuantity, cart.TotalPrice,
			string(form.Delivery), string(form.Payment), map[string]interface{}{"items": len(cart.Items)})
		if err := s.publisher.PublishEvent(s.topic, sessionID, event); err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Warn("failed to publish checkout event")
		}
	}

	handle.ClearCart()
	return result, nil
}

// RenderMessage собирает текст заказа.
func (s *Service) RenderMessage(cart domain.Cart, form Form) string {
	lines := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, fmt.Sprintf("%s (%s, %s) × %d = %s",
			item.Name, item.Size, item.Color, item.Quantity, s.formatter.Format(item.Total)))
	}

	delivery := "Самовывоз"
	if form.Delivery == DeliveryCourier {
		delivery = "Доставка: курьером по адресу: " + form.Address
	}
	payment := "Наличными при получении"
	if form.Payment == PaymentCard {
		payment = "Картой при получении"
	}
	comment := form.Comment
	if comment == "" {
		comment = "Нет комментария"
	}

	var b strings.Builder
	b.WriteString("НОВЫЙ ЗАКАЗ МЕРЧА!\n\n")
	b.WriteString("Контактные данные:\n")
	fmt.Fprintf(&b, "Имя: %s\nТелефон: %s\nEmail: %s\n\n", form.Name, form.Phone, form.Email)
	b.WriteString("Заказ:\n")
	b.WriteString(strings.Join(lines, "\n"))
	fmt.Fprintf(&b, "\n\n%s\nОплата: %s\n\n", delivery, payment)
	fmt.Fprintf(&b, "Общая сумма: %s\n\n", s.formatter.Format(cart.TotalPrice))
	fmt.Fprintf(&b, "Комментарий: %s", comment)
	return b.String()
}

// encodeURIComponent кодирует пробел как %20, а не "+".
func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
