package cart

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Имена операций для логов и метрик.
const (
	OpAdd       = "add"
	OpUpdate    = "update"
	OpRemove    = "remove"
	OpIncrement = "increment"
	OpDecrement = "decrement"
	OpClear     = "clear"
)

const (
	notificationSuccess = "success"
	notificationInfo    = "info"

	messageCleared = "Корзина очищена"
)

// Persistence — долговременное хранение снимка корзины.
type Persistence interface {
	Load() (domain.Cart, bool)
	Save(cart domain.Cart)
}

type notification struct {
	kind    string
	message string
}

// Store владеет каноничной корзиной одной сессии и флагом видимости.
// Операции сериализуются мьютексом и выполняются до конца одна за другой;
// каждая видит результат предыдущей. Ни одна операция не возвращает ошибку.
type Store struct {
	mu     sync.Mutex
	cart   domain.Cart
	isOpen bool

	persistence Persistence
	notifier    domain.Notifier
	logger      *log.Entry
	metrics     *metrics.CartMetrics
	now         func() time.Time
}

// Option настраивает Store.
type Option func(*Store)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики операций.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени для UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore создаёт корзину и один раз гидратирует её из persistence.
// persistence и notifier могут быть nil: тогда корзина живёт только в памяти и молчит.
func NewStore(persistence Persistence, notifier domain.Notifier, options ...Option) *Store {
	s := &Store{
		persistence: persistence,
		notifier:    notifier,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "cart-store")
	}

	s.cart = domain.EmptyCart(s.now())
	if persistence != nil {
		if restored, ok := persistence.Load(); ok {
			s.cart = restored
		}
	}
	return s
}

// Cart возвращает копию текущей корзины для чтения.
func (s *Store) Cart() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// IsOpen сообщает, открыта ли панель корзины.
func (s *Store) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOpen
}

// OpenCart показывает корзину. Состояние видимости не сохраняется.
func (s *Store) OpenCart() {
	s.mu.Lock()
	s.isOpen = true
	s.mu.Unlock()
}

// CloseCart скрывает корзину.
func (s *Store) CloseCart() {
	s.mu.Lock()
	s.isOpen = false
	s.mu.Unlock()
}

// AddItem добавляет товар: при совпадении товара, цвета и размера увеличивает количество на 1,
// иначе добавляет новую позицию с количеством 1. Позиция на пределе MaxItemQuantity не меняется.
func (s *Store) AddItem(in domain.ProductInput) {
	s.apply(OpAdd, func(current domain.Cart) ([]domain.CartItem, *notification, bool) {
		items := cloneItems(current.Items)
		idx := current.IndexOfKey(in.ProductID, in.Color, in.Size)
		if idx >= 0 {
			if !s.canIncrement(items[idx]) {
				return nil, nil, false
			}
			items[idx].Quantity++
			items[idx].Recalculate()
		} else {
			items = append(items, domain.NewCartItem(in, 1))
		}
		return items, &notification{
			kind:    notificationSuccess,
			message: fmt.Sprintf("%s добавлен в корзину", in.Name),
		}, true
	})
}

// UpdateItem применяет частичное обновление к позиции и пересчитывает её сумму.
// Неизвестный id игнорируется. Количество меньше 1 удаляет позицию.
// Значения, нарушающие пределы позиции, отбрасываются с предупреждением.
func (s *Store) UpdateItem(itemID string, patch domain.ItemPatch) {
	s.apply(OpUpdate, func(current domain.Cart) ([]domain.CartItem, *notification, bool) {
		idx := current.IndexOf(itemID)
		if idx < 0 {
			return nil, nil, false
		}

		items := cloneItems(current.Items)
		item := items[idx]

		if patch.Quantity != nil && *patch.Quantity < 1 {
			return removeAt(items, idx), removedNotification(item.Name), true
		}

		if patch.Slug != nil {
			item.Slug = *patch.Slug
		}
		if patch.Name != nil {
			item.Name = *patch.Name
		}
		if patch.Image != nil {
			item.Image = *patch.Image
		}
		if patch.Quantity != nil {
			if *patch.Quantity > domain.MaxItemQuantity {
				s.logger.WithFields(log.Fields{
					"item_id":  itemID,
					"quantity": *patch.Quantity,
					"limit":    domain.MaxItemQuantity,
				}).Warn("ignoring quantity above limit in cart item update")
			} else {
				item.Quantity = *patch.Quantity
			}
		}
		if patch.Price != nil {
			switch {
			case *patch.Price < 0:
				s.logger.WithFields(log.Fields{
					"item_id": itemID,
					"price":   *patch.Price,
				}).Warn("ignoring negative price in cart item update")
			case !domain.LineTotalFits(*patch.Price, item.Quantity):
				s.logger.WithFields(log.Fields{
					"item_id":  itemID,
					"price":    *patch.Price,
					"quantity": item.Quantity,
				}).Warn("ignoring price that overflows item total")
			default:
				item.Price = *patch.Price
			}
		}
		if !domain.LineTotalFits(item.Price, item.Quantity) {
			s.logger.WithField("item_id", itemID).Warn("ignoring update that overflows item total")
			return nil, nil, false
		}
		item.Recalculate()
		items[idx] = item

		return items, nil, true
	})
}

// RemoveItem удаляет позицию целиком, независимо от количества.
func (s *Store) RemoveItem(itemID string) {
	s.apply(OpRemove, func(current domain.Cart) ([]domain.CartItem, *notification, bool) {
		idx := current.IndexOf(itemID)
		if idx < 0 {
			return nil, nil, false
		}
		name := current.Items[idx].Name
		return removeAt(cloneItems(current.Items), idx), removedNotification(name), true
	})
}

// IncrementQuantity увеличивает количество позиции на 1; на пределе MaxItemQuantity ничего не делает.
func (s *Store) IncrementQuantity(itemID string) {
	s.apply(OpIncrement, func(current domain.Cart) ([]domain.CartItem, *notification, bool) {
		idx := current.IndexOf(itemID)
		if idx < 0 {
			return nil, nil, false
		}
		if !s.canIncrement(current.Items[idx]) {
			return nil, nil, false
		}
		items := cloneItems(current.Items)
		items[idx].Quantity++
		items[idx].Recalculate()
		return items, nil, true
	})
}

// DecrementQuantity уменьшает количество на 1; позиция с количеством 1 удаляется.
func (s *Store) DecrementQuantity(itemID string) {
	s.apply(OpDecrement, func(current domain.Cart) ([]domain.CartItem, *notification, bool) {
		idx := current.IndexOf(itemID)
		if idx < 0 {
			return nil, nil, false
		}
		items := cloneItems(current.Items)
		if items[idx].Quantity <= 1 {
			name := items[idx].Name
			return removeAt(items, idx), removedNotification(name), true
		}
		items[idx].Quantity--
		items[idx].Recalculate()
		return items, nil, true
	})
}

// ClearCart сбрасывает корзину в пустое состояние.
func (s *Store) ClearCart() {
	s.apply(OpClear, func(domain.Cart) ([]domain.CartItem, *notification, bool) {
		return []domain.CartItem{}, &notification{kind: notificationInfo, message: messageCleared}, true
	})
}

// apply выполняет мутацию под мьютексом: пересчёт итогов, штамп времени и запись снимка
// происходят до отпускания блокировки, уведомление уходит после.
func (s *Store) apply(operation string, mutate func(current domain.Cart) ([]domain.CartItem, *notification, bool)) {
	s.mu.Lock()
	items, note, changed := mutate(s.cart)
	if !changed {
		s.mu.Unlock()
		s.metrics.RecordNoop(operation)
		s.logger.WithField("operation", operation).Debug("cart unchanged, operation ignored")
		return
	}

	s.cart = domain.NewCart(items, s.now())
	if s.persistence != nil {
		s.persistence.Save(s.cart.Clone())
	}
	totals := domain.Totals{Quantity: s.cart.TotalQuantity, Price: s.cart.TotalPrice}
	s.mu.Unlock()

	s.metrics.RecordOperation(operation)
	s.logger.WithFields(log.Fields{
		"operation":      operation,
		"total_quantity": totals.Quantity,
		"total_price":    totals.Price,
	}).Debug("cart updated")

	if note != nil {
		s.notify(*note)
	}
}

func (s *Store) notify(note notification) {
	s.metrics.RecordNotification(note.kind)
	if s.notifier == nil {
		return
	}
	switch note.kind {
	case notificationSuccess:
		s.notifier.Success(note.message)
	default:
		s.notifier.Info(note.message)
	}
}

// canIncrement проверяет, что ещё одна единица не выведет позицию за пределы.
func (s *Store) canIncrement(item domain.CartItem) bool {
	if item.Quantity < domain.MaxItemQuantity && domain.LineTotalFits(item.Price, item.Quantity+1) {
		return true
	}
	s.logger.WithFields(log.Fields{
		"item_id":  item.ID,
		"quantity": item.Quantity,
	}).Warn("item quantity limit reached")
	return false
}

func removedNotification(name string) *notification {
	return &notification{kind: notificationInfo, message: fmt.Sprintf("%s удален из корзины", name)}
}

func cloneItems(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, len(items), len(items)+1)
	copy(out, items)
	return out
}

func removeAt(items []domain.CartItem, idx int) []domain.CartItem {
	return append(items[:idx], items[idx+1:]...)
}
