package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultCheckTimeout = 2 * time.Second
	healthKey           = "__storefront_health_check__"
)

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse возвращает более тяжёлый из двух статусов.
func (s Status) worse(other Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[other] > rank[s] {
		return other
	}
	return s
}

// Check — результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report — тело ответа /healthz.
type Report struct {
	Status        Status           `json:"status"`
	Ready         bool             `json:"ready"`
	Timestamp     time.Time        `json:"timestamp"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Checks        map[string]Check `json:"checks,omitempty"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler собирает проверки и отдаёт их по HTTP.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startedAt time.Time
}

// NewHandler создаёт Handler для указанной версии сборки.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startedAt: time.Now(),
	}
}

// RegisterChecker добавляет или заменяет проверку под именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

// Report выполняет все проверки параллельно.
func (h *Handler) Report(ctx context.Context) Report {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	checkers := make([]Checker, 0, len(h.checkers))
	for name, checker := range h.checkers {
		names = append(names, name)
		checkers = append(checkers, checker)
	}
	h.mu.RUnlock()

	results := make([]Check, len(checkers))
	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = checker.Check(ctx)
		}()
	}
	wg.Wait()

	report := Report{
		Status:        StatusHealthy,
		Timestamp:     time.Now(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Checks:        make(map[string]Check, len(results)),
	}
	for i, check := range results {
		report.Checks[names[i]] = check
		report.Status = report.Status.worse(check.Status)
	}
	// Degraded-компоненты не снимают готовность: корзина работает и без них.
	report.Ready = report.Status != StatusUnhealthy
	return report
}

// ServeHTTP отдаёт подробный отчёт; 503 только для unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Report(r.Context())

	code := http.StatusOK
	if !report.Ready {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// ReadinessHandler отвечает "ready" или "not ready".
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.Report(r.Context()).Ready {
		writePlain(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writePlain(w, http.StatusOK, "ready")
}

// LivenessHandler всегда отвечает 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writePlain(w, http.StatusOK, "ok")
}

func writePlain(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// CheckerOption настраивает FuncChecker.
type CheckerOption func(*FuncChecker)

// WithTimeout ограничивает время одной проверки.
func WithTimeout(timeout time.Duration) CheckerOption {
	return func(c *FuncChecker) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// Optional помечает компонент необязательным: его сбой даёт degraded.
func Optional() CheckerOption {
	return func(c *FuncChecker) {
		c.onFailure = StatusDegraded
	}
}

// FuncChecker выполняет проверку через функцию с таймаутом.
type FuncChecker struct {
	name      string
	check     func(ctx context.Context) error
	timeout   time.Duration
	onFailure Status
}

var _ Checker = (*FuncChecker)(nil)

// NewSimpleChecker создаёт проверку на основе функции check.
func NewSimpleChecker(name string, check func(ctx context.Context) error, opts ...CheckerOption) *FuncChecker {
	c := &FuncChecker{
		name:      name,
		check:     check,
		timeout:   defaultCheckTimeout,
		onFailure: StatusUnhealthy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pinger — компонент с проверкой доступности, например postgres.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingChecker проверяет доступность через Ping.
func NewPingChecker(name string, pinger Pinger, opts ...CheckerOption) *FuncChecker {
	return NewSimpleChecker(name, pinger.Ping, opts...)
}

// NewSnapshotSlotChecker читает служебный ключ слота; отсутствие ключа считается успехом.
func NewSnapshotSlotChecker(name string, slot domain.SnapshotSlot, opts ...CheckerOption) *FuncChecker {
	return NewSimpleChecker(name, func(ctx context.Context) error {
		_, err := slot.Get(ctx, healthKey)
		if errors.Is(err, domain.ErrSnapshotNotFound) {
			return nil
		}
		return err
	}, opts...)
}

// Check выполняет проверку в пределах таймаута.
func (c *FuncChecker) Check(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.check(ctx)
	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Status = c.onFailure
		check.Message = err.Error()
	}
	return check
}
