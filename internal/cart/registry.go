package cart

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/notify"
)

const (
	defaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// StoreFactory создаёт Store для сессии. notifier уже включает ленту уведомлений сессии.
type StoreFactory func(sessionID string, notifier domain.Notifier) *Store

// Session — корзина одного посетителя вместе с лентой его уведомлений.
type Session struct {
	id    string
	store *Store
	feed  *notify.Feed

	mu sync.Mutex
	// lastSeen защищён Registry.mu.
	lastSeen time.Time
}

// ID возвращает идентификатор сессии.
func (s *Session) ID() string {
	return s.id
}

// Store возвращает корзину сессии.
func (s *Session) Store() *Store {
	return s.store
}

// Do выполняет fn над корзиной и возвращает уведомления, порождённые этим вызовом.
// Вызовы одной сессии сериализуются, чтобы уведомления не смешивались между запросами.
func (s *Session) Do(fn func(store *Store)) []notify.Toast {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feed.Drain()
	fn(s.store)
	return s.feed.Drain()
}

func (s *Session) touch(now time.Time) {
	s.lastSeen = now
}

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(s.lastSeen)
}

// Registry держит отдельный Store на каждую сессию и выселяет простаивающие.
// Выселение освобождает только память: снимок остаётся в хранилище и гидратируется при следующем обращении.
type Registry struct {
	factory StoreFactory
	logger  *log.Entry
	metrics *metrics.CartMetrics
	now     func() time.Time

	idleTTL       time.Duration
	sweepInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	building singleflight.Group
}

// RegistryOption настраивает Registry.
type RegistryOption func(*Registry)

// WithIdleTTL задаёт время простоя, после которого сессия выселяется.
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.idleTTL = ttl
		}
	}
}

// WithSweepInterval задаёт период проверки простаивающих сессий.
func WithSweepInterval(interval time.Duration) RegistryOption {
	return func(r *Registry) {
		if interval > 0 {
			r.sweepInterval = interval
		}
	}
}

// WithRegistryLogger задаёт logger.
func WithRegistryLogger(logger *log.Entry) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryMetrics подключает gauge активных сессий.
func WithRegistryMetrics(m *metrics.CartMetrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithRegistryClock подменяет источник времени.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry создаёт реестр сессий.
func NewRegistry(factory StoreFactory, options ...RegistryOption) *Registry {
	r := &Registry{
		factory:       factory,
		now:           time.Now,
		idleTTL:       defaultIdleTTL,
		sweepInterval: defaultSweepInterval,
		sessions:      make(map[string]*Session),
	}
	for _, option := range options {
		option(r)
	}
	if r.logger == nil {
		r.logger = log.WithField("component", "cart-registry")
	}
	return r
}

// Get возвращает сессию по id, создавая и гидратируя её при первом обращении.
// Гидратация идёт без блокировки реестра; параллельные запросы одной новой сессии
// ждут одну и ту же сборку.
func (r *Registry) Get(sessionID string) *Session {
	for {
		if session, ok := r.lookup(sessionID); ok {
			return session
		}
		_, _, _ = r.building.Do(sessionID, func() (interface{}, error) {
			return r.open(sessionID), nil
		})
	}
}

// lookup находит сессию и отмечает обращение под мьютексом реестра.
func (r *Registry) lookup(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if ok {
		session.touch(r.now())
	}
	return session, ok
}

// open собирает сессию вне мьютекса и регистрирует её, если никто не успел раньше.
func (r *Registry) open(sessionID string) *Session {
	if session, ok := r.lookup(sessionID); ok {
		return session
	}

	feed := notify.NewFeed(0)
	session := &Session{
		id:    sessionID,
		feed:  feed,
		store: r.factory(sessionID, feed),
	}

	r.mu.Lock()
	if existing, ok := r.sessions[sessionID]; ok {
		r.mu.Unlock()
		return existing
	}
	session.touch(r.now())
	r.sessions[sessionID] = session
	r.mu.Unlock()

	r.metrics.RecordSessionOpened()
	r.logger.WithField("session_id", sessionID).Debug("cart session opened")
	return session
}

// Len возвращает число сессий в памяти.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// EvictIdle выселяет сессии, простаивающие дольше idleTTL, и возвращает их число.
func (r *Registry) EvictIdle() int {
	r.mu.Lock()
	now := r.now()
	var evicted []string
	for id, session := range r.sessions {
		if session.idleSince(now) >= r.idleTTL {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		r.metrics.RecordSessionClosed()
		r.logger.WithField("session_id", id).Debug("idle cart session evicted")
	}
	return len(evicted)
}

// Run периодически выселяет простаивающие сессии до отмены ctx.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	r.logger.WithFields(log.Fields{
		"idle_ttl":       r.idleTTL,
		"sweep_interval": r.sweepInterval,
	}).Info("cart session registry started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("cart session registry stopped")
			return
		case <-ticker.C:
			if n := r.EvictIdle(); n > 0 {
				r.logger.WithField("evicted", n).Info("idle cart sessions evicted")
			}
		}
	}
}

// SessionStorageKey возвращает ключ снимка для сессии: base:<session-id>.
func SessionStorageKey(base, sessionID string) string {
	if base == "" {
		base = DefaultStorageKey
	}
	return base + ":" + sessionID
}
