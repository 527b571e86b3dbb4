package detector

import (
	"context"

	"sjsage522/modaggregator/internal/model"
	"sjsage522/modaggregator/logger"
	apperrors "sjsage522/modaggregator/pkg/errors"
	"sjsage522/modaggregator/services/monitoring"
	"sjsage522/modaggregator/services/store"
)

// Result summarizes one detection batch. Events are in candidate order.
type Result struct {
	Events    []model.ChangeEvent
	Created   int
	Updated   int
	Unchanged int
	Errors    []error
}

// Detector compares extracted candidates against stored records.
type Detector struct {
	records store.RecordStore
	metrics *monitoring.Metrics
	log     *logger.Logger
}

// New creates a detector over records. metrics may be nil.
func New(records store.RecordStore, metrics *monitoring.Metrics) *Detector {
	return &Detector{records: records, metrics: metrics, log: logger.ForDetector()}
}

// Detect classifies every candidate as new, updated or unchanged and
// persists the first two. Only updates of already known records produce an
// event, and only when the candidate is strictly newer than what is stored.
// A store failure skips that candidate; the rest of the batch still runs.
func (d *Detector) Detect(ctx context.Context, candidates []model.Record) Result {
	var res Result

	for i := range candidates {
		c := &candidates[i]
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, err)
			break
		}

		stored, err := d.records.GetByURL(ctx, c.URL)
		if err != nil {
			res.Errors = append(res.Errors, d.storeErr("look up record", c, err))
			continue
		}

		if stored == nil {
			if _, err := d.records.Put(ctx, c); err != nil {
				res.Errors = append(res.Errors, d.storeErr("insert record", c, err))
				continue
			}
			res.Created++
			continue
		}

		if !c.UpdatedAt.After(stored.UpdatedAt) {
			res.Unchanged++
			continue
		}

		if err := d.records.Update(ctx, stored.ID, c); err != nil {
			res.Errors = append(res.Errors, d.storeErr("update record", c, err))
			continue
		}
		res.Updated++
		res.Events = append(res.Events, model.ChangeEvent{
			RecordID:   stored.ID,
			SiteID:     stored.SiteID,
			Title:      c.Title,
			URL:        c.URL,
			OldVersion: stored.Version,
			NewVersion: c.Version,
			Changes:    c.Changes,
		})
	}

	d.metrics.AddRecords("created", res.Created)
	d.metrics.AddRecords("updated", res.Updated)
	d.metrics.AddRecords("unchanged", res.Unchanged)
	d.metrics.AddRecords("failed", len(res.Errors))

	d.log.Debug().
		Int("candidates", len(candidates)).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Int("errors", len(res.Errors)).
		Msg("Detection finished")
	return res
}

func (d *Detector) storeErr(op string, c *model.Record, err error) error {
	wrapped := apperrors.NewStore(op, err).WithURL(c.URL)
	d.log.Warn().Err(err).Str("url", c.URL).Msg("Record store failure, skipping candidate")
	return wrapped
}
