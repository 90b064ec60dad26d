package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	// DefaultStorageKey — ключ слота, под которым хранится снимок корзины.
	DefaultStorageKey = "promo-team-cart"

	snapshotVersion = 1
	opTimeout       = 5 * time.Second
)

// PersistenceState описывает, что адаптер знает о сохранённом снимке.
type PersistenceState string

const (
	StateUninitialized PersistenceState = "uninitialized"
	StateHydrated      PersistenceState = "hydrated"
	StateEmpty         PersistenceState = "empty"
)

type snapshotItem struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int32  `json:"quantity"`
	Image     string `json:"image"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Total     int64  `json:"total"`
}

// snapshot — формат хранения. Указатели нужны, чтобы отличать отсутствующие ключи от нулей.
type snapshot struct {
	Version       *int            `json:"version"`
	Items         *[]snapshotItem `json:"items"`
	TotalQuantity *int64          `json:"totalQuantity"`
	TotalPrice    *int64          `json:"totalPrice"`
	UpdatedAt     *string         `json:"updatedAt"`
}

// Adapter сохраняет и восстанавливает снимок корзины в SnapshotSlot.
// Ошибки хранилища никогда не выходят наружу: Load откатывается к пустой корзине, Save только логирует.
type Adapter struct {
	slot    domain.SnapshotSlot
	key     string
	logger  *log.Entry
	metrics *metrics.CartMetrics

	mu    sync.Mutex
	state PersistenceState
}

// AdapterOption настраивает Adapter.
type AdapterOption func(*Adapter)

// WithAdapterLogger задаёт logger адаптера.
func WithAdapterLogger(logger *log.Entry) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAdapterMetrics подключает метрики загрузок и записей.
func WithAdapterMetrics(m *metrics.CartMetrics) AdapterOption {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// NewAdapter создаёт адаптер для слота и ключа. Пустой key заменяется DefaultStorageKey.
func NewAdapter(slot domain.SnapshotSlot, key string, options ...AdapterOption) *Adapter {
	if key == "" {
		key = DefaultStorageKey
	}
	a := &Adapter{
		slot:  slot,
		key:   key,
		state: StateUninitialized,
	}
	for _, option := range options {
		option(a)
	}
	if a.logger == nil {
		a.logger = log.WithField("component", "cart-persistence")
	}
	a.logger = a.logger.WithField("storage_key", key)
	return a
}

// Key возвращает ключ слота.
func (a *Adapter) Key() string {
	return a.key
}

// State возвращает текущее состояние персистентности.
func (a *Adapter) State() PersistenceState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) setState(state PersistenceState) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
}

// Load читает и разбирает сохранённый снимок.
// Повреждённый или несовместимый снимок удаляется, и возвращается (пустая корзина, false).
func (a *Adapter) Load() (domain.Cart, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	raw, err := a.slot.Get(ctx, a.key)
	if err != nil {
		a.setState(StateEmpty)
		if domain.IsSnapshotNotFound(err) {
			a.metrics.RecordSnapshotLoad(metrics.ResultEmpty)
			return domain.Cart{}, false
		}
		a.metrics.RecordSnapshotLoad(metrics.ResultError)
		a.logger.WithError(err).Warn("failed to read cart snapshot, starting with empty cart")
		return domain.Cart{}, false
	}

	cart, err := DecodeSnapshot(raw)
	if err != nil {
		a.logger.WithError(err).Warn("discarding unreadable cart snapshot")
		a.Discard()
		a.setState(StateEmpty)
		a.metrics.RecordSnapshotLoad(metrics.ResultDiscarded)
		return domain.Cart{}, false
	}

	a.setState(StateHydrated)
	a.metrics.RecordSnapshotLoad(metrics.ResultHydrated)
	a.logger.WithField("items", len(cart.Items)).Debug("cart snapshot restored")
	return cart, true
}

// Save сериализует снимок целиком и перезаписывает ключ.
// Ошибка записи оставляет корзину в памяти корректной, но несохранённой.
func (a *Adapter) Save(cart domain.Cart) {
	raw, err := EncodeSnapshot(cart)
	if err != nil {
		a.metrics.RecordSnapshotSave(metrics.ResultError, 0)
		a.logger.WithError(err).Error("failed to encode cart snapshot")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	start := time.Now()
	if err := a.slot.Put(ctx, a.key, raw); err != nil {
		a.metrics.RecordSnapshotSave(metrics.ResultError, time.Since(start))
		a.logger.WithError(err).Warn("failed to save cart snapshot, continuing with unpersisted cart")
		return
	}
	a.metrics.RecordSnapshotSave(metrics.ResultOK, time.Since(start))
	a.setState(StateHydrated)
}

// Discard удаляет сохранённый снимок.
func (a *Adapter) Discard() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := a.slot.Delete(ctx, a.key); err != nil {
		a.logger.WithError(err).Warn("failed to delete cart snapshot")
	}
}

// EncodeSnapshot сериализует корзину в формат хранения.
func EncodeSnapshot(cart domain.Cart) ([]byte, error) {
	items := make([]snapshotItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, snapshotItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			Slug:      item.Slug,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Image:     item.Image,
			Color:     item.Color,
			Size:      item.Size,
			Total:     item.Total,
		})
	}

	version := snapshotVersion
	updatedAt := cart.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return json.Marshal(snapshot{
		Version:       &version,
		Items:         &items,
		TotalQuantity: &cart.TotalQuantity,
		TotalPrice:    &cart.TotalPrice,
		UpdatedAt:     &updatedAt,
	})
}

// DecodeSnapshot разбирает снимок и проверяет инварианты корзины.
func DecodeSnapshot(raw []byte) (domain.Cart, error) {
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Cart{}, fmt.Errorf("%w: %v", domain.ErrSnapshotCorrupt, err)
	}
	if snap.Version == nil || snap.Items == nil || snap.TotalQuantity == nil ||
		snap.TotalPrice == nil || snap.UpdatedAt == nil {
		return domain.Cart{}, fmt.Errorf("%w: missing required keys", domain.ErrSnapshotCorrupt)
	}
	if *snap.Version != snapshotVersion {
		return domain.Cart{}, fmt.Errorf("%w: got %d, want %d", domain.ErrSnapshotVersion, *snap.Version, snapshotVersion)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, *snap.UpdatedAt)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("%w: updatedAt: %v", domain.ErrSnapshotCorrupt, err)
	}

	items := make([]domain.CartItem, 0, len(*snap.Items))
	for _, item := range *snap.Items {
		items = append(items, domain.CartItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			Slug:      item.Slug,
			Name:      item.Name,
			Price:     item.Price,
			Image:     item.Image,
			Color:     item.Color,
			Size:      item.Size,
			Quantity:  item.Quantity,
			Total:     item.Total,
		})
	}

	cart := domain.Cart{
		Items:         items,
		TotalQuantity: *snap.TotalQuantity,
		TotalPrice:    *snap.TotalPrice,
		UpdatedAt:     updatedAt,
	}
	if errs := cart.ValidateInvariants(); len(errs) > 0 {
		return domain.Cart{}, fmt.Errorf("%w: %w", domain.ErrSnapshotCorrupt, errors.Join(errs...))
	}

	return cart, nil
}
