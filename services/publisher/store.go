package publisher

import (
	"context"
	"fmt"
	"time"

	"sjsage522/modaggregator/internal/model"
	"sjsage522/modaggregator/logger"
	apperrors "sjsage522/modaggregator/pkg/errors"
)

// NotificationWriter persists notifications.
type NotificationWriter interface {
	Add(ctx context.Context, n *model.Notification) (int64, error)
}

// StoreNotifier turns change events into stored notifications.
type StoreNotifier struct {
	store NotificationWriter
	now   func() time.Time
	log   *logger.Logger
}

func NewStoreNotifier(store NotificationWriter) *StoreNotifier {
	return &StoreNotifier{
		store: store,
		now:   time.Now,
		log:   logger.ForNotifier().WithField("notifier", "store"),
	}
}

func (s *StoreNotifier) Notify(ctx context.Context, event model.ChangeEvent) error {
	n := &model.Notification{
		RecordID:  event.RecordID,
		SiteID:    event.SiteID,
		Title:     "Mod update: " + event.Title,
		Message:   Message(event),
		CreatedAt: s.now(),
	}
	id, err := s.store.Add(ctx, n)
	if err != nil {
		return apperrors.NewNotify("store notification", err).WithURL(event.URL)
	}
	s.log.Debug().Int64("notification_id", id).Int64("mod_id", event.RecordID).Msg("Stored notification")
	return nil
}

func (s *StoreNotifier) Close() error { return nil }

// Message renders the user-visible text for event. An update that keeps the
// version string reads "Mod updated".
func Message(event model.ChangeEvent) string {
	if event.OldVersion != "" && event.NewVersion != "" && event.OldVersion != event.NewVersion {
		return fmt.Sprintf("Version changed: %s → %s", event.OldVersion, event.NewVersion)
	}
	return "Mod updated"
}
