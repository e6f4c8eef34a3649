// Package notify delivers user notifications. Delivery is fire-and-forget:
// a failed push is logged and never fails the operation that caused it.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"clarify/internal/logger"
	"clarify/models"
)

// Notifier pushes one notification to its user.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, target := range m {
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher sends notifications in the background.
type Dispatcher struct {
	target  Notifier
	timeout time.Duration
	log     *logger.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewDispatcher(target Notifier, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		target:  target,
		timeout: 5 * time.Second,
		log:     log.With("service", "Notifications"),
		now:     time.Now,
	}
}

// Send queues n for delivery and returns immediately.
func (d *Dispatcher) Send(n models.Notification) {
	if d == nil || d.target == nil || n.UserID == "" || n.UserID == models.SystemSender {
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now().UTC()
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.target.Notify(ctx, n); err != nil {
			d.log.Warn("notification delivery failed", "user", n.UserID, "type", n.Type, "error", err)
		}
	}()
}

// Flush waits for in-flight deliveries.
func (d *Dispatcher) Flush() {
	if d != nil {
		d.wg.Wait()
	}
}

// Recorder keeps every notification it receives. Useful where delivery has to be observed.
type Recorder struct {
	mu  sync.Mutex
	out []models.Notification
}

func (r *Recorder) Notify(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	r.out = append(r.out, n)
	r.mu.Unlock()
	return nil
}

// Sent returns a copy of the recorded notifications.
func (r *Recorder) Sent() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.out...)
}

// OfType returns the recorded notifications of one type for one user.
func (r *Recorder) OfType(userID, typ string) []models.Notification {
	var out []models.Notification
	for _, n := range r.Sent() {
		if n.UserID == userID && n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}
