package publisher

import (
	"context"
	"errors"

	"sjsage522/modaggregator/internal/model"
)

// Notifier delivers change events. Delivery is best effort: callers log a
// failure and move on.
type Notifier interface {
	Notify(ctx context.Context, event model.ChangeEvent) error
	Close() error
}

// Trimmer is implemented by notifiers whose backlog must be capped
// periodically.
type Trimmer interface {
	TrimStreams(ctx context.Context) error
}

// MultiNotifier fans every event out to all of its notifiers. A failing
// notifier does not stop the others; all errors are joined.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, event model.ChangeEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TrimStreams trims every notifier that supports it.
func (m MultiNotifier) TrimStreams(ctx context.Context) error {
	var errs []error
	for _, n := range m {
		if t, ok := n.(Trimmer); ok {
			if err := t.TrimStreams(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m MultiNotifier) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
