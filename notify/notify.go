// Package notify delivers user-visible notices such as "session expired".
package notify

import (
	"context"
	"sync"

	"github.com/jonwraymond/authgate/observe"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warning"
	LevelError Level = "error"
)

// Notice is one user-visible message. Code is a stable identifier for
// programmatic handling.
type Notice struct {
	Level   Level  `json:"level"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Notifier shows notices to the user.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: delivery is best-effort and must not panic.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notice)

// Notify calls f(ctx, n).
func (f Func) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// Nop discards notices.
func Nop() Notifier { return Func(func(context.Context, Notice) {}) }

// LogNotifier writes notices to a logger, at a log level matching the
// notice level.
type LogNotifier struct {
	logger observe.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger observe.Logger) *LogNotifier {
	return &LogNotifier{logger: observe.OrNop(logger).With(observe.F("component", "notify"))}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notice) {
	fields := []observe.Field{observe.F("notice", n.Code)}
	switch n.Level {
	case LevelError:
		l.logger.Error(ctx, n.Message, fields...)
	case LevelWarn:
		l.logger.Warn(ctx, n.Message, fields...)
	default:
		l.logger.Info(ctx, n.Message, fields...)
	}
}

// Queue buffers notices until they are drained, like flash messages.
// When full, the oldest notice is dropped.
type Queue struct {
	mu      sync.Mutex
	max     int
	notices []Notice
}

// NewQueue creates a queue holding at most size notices. Default: 16.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 16
	}
	return &Queue{max: size}
}

func (q *Queue) Notify(_ context.Context, n Notice) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.notices) == q.max {
		q.notices = q.notices[1:]
	}
	q.notices = append(q.notices, n)
}

// Drain returns the queued notices, oldest first, and empties the queue.
func (q *Queue) Drain() []Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.notices
	q.notices = nil
	return out
}

// Len returns the number of queued notices.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.notices)
}

// Multi fans a notice out to every non-nil notifier.
func Multi(notifiers ...Notifier) Notifier {
	return Func(func(ctx context.Context, n Notice) {
		for _, nt := range notifiers {
			if nt != nil {
				nt.Notify(ctx, n)
			}
		}
	})
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Queue)(nil)
	_ Notifier = Func(nil)
)
