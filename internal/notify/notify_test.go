package notify

import (
	"context"
	"errors"
	"testing"

	"clarify/internal/logger"
	"clarify/models"
)

type failing struct{}

func (failing) Notify(context.Context, models.Notification) error { return errors.New("socket gone") }

func TestDispatcherDeliversInBackground(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(rec, logger.NewNop())
	d.Send(models.Notification{UserID: "u1", Type: models.NotifyInvitation, Title: "New invitation"})
	d.Flush()

	got := rec.OfType("u1", models.NotifyInvitation)
	if len(got) != 1 {
		t.Fatalf("expected one invitation, got %+v", rec.Sent())
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}
}

func TestDispatcherSkipsSystemAndEmptyRecipients(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(rec, logger.NewNop())
	d.Send(models.Notification{UserID: "", Type: models.NotifyMessage})
	d.Send(models.Notification{UserID: models.SystemSender, Type: models.NotifyMessage})
	d.Flush()
	if n := len(rec.Sent()); n != 0 {
		t.Fatalf("expected nothing delivered, got %d", n)
	}
}

func TestMultiContinuesPastFailures(t *testing.T) {
	rec := &Recorder{}
	m := Multi{failing{}, rec}
	err := m.Notify(context.Background(), models.Notification{UserID: "u1", Type: models.NotifyLevelUp})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(rec.Sent()) != 1 {
		t.Fatal("later notifiers must still receive the notification")
	}
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	d := NewDispatcher(failing{}, logger.NewNop())
	d.Send(models.Notification{UserID: "u1", Type: models.NotifyMessage})
	d.Flush()

	var nilDispatcher *Dispatcher
	nilDispatcher.Send(models.Notification{UserID: "u1"})
	nilDispatcher.Flush()
}
