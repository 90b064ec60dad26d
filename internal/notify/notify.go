package notify

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Виды уведомлений.
const (
	KindSuccess = "success"
	KindInfo    = "info"
)

// DefaultDuration — сколько toast показывается на витрине.
const DefaultDuration = 3 * time.Second

const defaultFeedLimit = 32

// Toast — уведомление, которое клиент показывает пользователю.
type Toast struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	DurationMs int64  `json:"durationMs"`
}

func newToast(kind, message string) Toast {
	return Toast{Kind: kind, Message: message, DurationMs: DefaultDuration.Milliseconds()}
}

// Feed копит уведомления до следующего Drain. Самые старые отбрасываются при переполнении.
type Feed struct {
	mu     sync.Mutex
	toasts []Toast
	limit  int
}

// NewFeed создаёт ленту с ограничением limit (<=0 — значение по умолчанию).
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	return &Feed{limit: limit}
}

func (f *Feed) Success(message string) { f.push(newToast(KindSuccess, message)) }

func (f *Feed) Info(message string) { f.push(newToast(KindInfo, message)) }

func (f *Feed) push(toast Toast) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.toasts) >= f.limit {
		f.toasts = f.toasts[1:]
	}
	f.toasts = append(f.toasts, toast)
}

// Drain возвращает накопленные уведомления и очищает ленту.
func (f *Feed) Drain() []Toast {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.toasts
	f.toasts = nil
	if out == nil {
		return []Toast{}
	}
	return out
}

// Len возвращает число ожидающих уведомлений.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.toasts)
}

// LogNotifier пишет уведомления в лог.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier поверх logrus.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "cart-notifier")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Success(message string) {
	n.logger.WithField("kind", KindSuccess).Info(message)
}

func (n *LogNotifier) Info(message string) {
	n.logger.WithField("kind", KindInfo).Info(message)
}

type fanout []domain.Notifier

func (f fanout) Success(message string) {
	for _, n := range f {
		n.Success(message)
	}
}

func (f fanout) Info(message string) {
	for _, n := range f {
		n.Info(message)
	}
}

// Combine рассылает каждое уведомление всем переданным notifier; nil пропускаются.
func Combine(notifiers ...domain.Notifier) domain.Notifier {
	out := make(fanout, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

var (
	_ domain.Notifier = (*Feed)(nil)
	_ domain.Notifier = (*LogNotifier)(nil)
	_ domain.Notifier = fanout(nil)
)
