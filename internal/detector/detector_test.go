package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"sjsage522/modaggregator/internal/model"
	apperrors "sjsage522/modaggregator/pkg/errors"
	"sjsage522/modaggregator/services/monitoring"
	"sjsage522/modaggregator/services/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func newRecords(t *testing.T) *store.Records {
	t.Helper()
	db, err := store.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewRecords(db)
}

func candidate(url, version string, updated time.Time) model.Record {
	return model.Record{SiteID: 1, Title: "Mod " + url, URL: url, Version: version, CreatedAt: updated, UpdatedAt: updated}
}

func TestDetectFirstSightIsSuppressed(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	d := New(records, nil)

	res := d.Detect(ctx, []model.Record{candidate("https://s.example/a", "1.0", t0)})
	assert.Empty(t, res.Events)
	assert.Equal(t, 1, res.Created)
	assert.Empty(t, res.Errors)

	stored, err := records.GetByURL(ctx, "https://s.example/a")
	require.NoError(t, err)
	require.NotNil(t, stored, "new records are persisted")
}

func TestDetectVersionBumpScenario(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	d := New(records, nil)

	d.Detect(ctx, []model.Record{candidate("https://s.example/a", "1.0", t0)})

	next := candidate("https://s.example/a", "1.1", t1)
	next.Changes = "new bridges"
	res := d.Detect(ctx, []model.Record{next})

	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.Equal(t, "1.0", ev.OldVersion)
	assert.Equal(t, "1.1", ev.NewVersion)
	assert.Equal(t, "new bridges", ev.Changes)
	assert.Equal(t, "https://s.example/a", ev.URL)
	assert.NotZero(t, ev.RecordID)
	assert.Equal(t, 1, res.Updated)

	stored, err := records.GetByURL(ctx, "https://s.example/a")
	require.NoError(t, err)
	assert.Equal(t, "1.1", stored.Version)
	assert.Equal(t, t1, stored.UpdatedAt)
	assert.Equal(t, t0, stored.CreatedAt)
	assert.Equal(t, ev.RecordID, stored.ID)
}

func TestDetectEqualOrEarlierNeverEmits(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	d := New(records, nil)

	d.Detect(ctx, []model.Record{candidate("https://s.example/a", "1.0", t1)})

	res := d.Detect(ctx, []model.Record{
		candidate("https://s.example/a", "2.0", t1),
		candidate("https://s.example/a", "0.9", t0),
	})
	assert.Empty(t, res.Events)
	assert.Equal(t, 2, res.Unchanged)

	stored, err := records.GetByURL(ctx, "https://s.example/a")
	require.NoError(t, err)
	assert.Equal(t, "1.0", stored.Version, "unchanged candidates are not written")
}

func TestDetectEventsKeepCandidateOrder(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	d := New(records, nil)

	urls := []string{"https://s.example/c", "https://s.example/a", "https://s.example/b"}
	var first, second []model.Record
	for _, u := range urls {
		first = append(first, candidate(u, "1", t0))
		second = append(second, candidate(u, "2", t1))
	}
	d.Detect(ctx, first)
	res := d.Detect(ctx, second)

	require.Len(t, res.Events, 3)
	for i, u := range urls {
		assert.Equal(t, u, res.Events[i].URL)
	}
}

type mockRecordStore struct {
	mock.Mock
}

func (m *mockRecordStore) GetByURL(ctx context.Context, url string) (*model.Record, error) {
	args := m.Called(ctx, url)
	r, _ := args.Get(0).(*model.Record)
	return r, args.Error(1)
}

func (m *mockRecordStore) Put(ctx context.Context, r *model.Record) (*model.Record, error) {
	args := m.Called(ctx, r)
	out, _ := args.Get(0).(*model.Record)
	return out, args.Error(1)
}

func (m *mockRecordStore) Update(ctx context.Context, id int64, r *model.Record) error {
	return m.Called(ctx, id, r).Error(0)
}

func TestDetectStoreFailuresDoNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	ms := new(mockRecordStore)
	boom := errors.New("database is locked")

	ms.On("GetByURL", ctx, "https://s.example/broken").Return(nil, boom)
	ms.On("GetByURL", ctx, "https://s.example/update-fails").
		Return(&model.Record{ID: 7, URL: "https://s.example/update-fails", Version: "1", UpdatedAt: t0}, nil)
	ms.On("Update", ctx, int64(7), mock.Anything).Return(boom)
	ms.On("GetByURL", ctx, "https://s.example/ok").
		Return(&model.Record{ID: 8, SiteID: 1, URL: "https://s.example/ok", Version: "1", UpdatedAt: t0}, nil)
	ms.On("Update", ctx, int64(8), mock.Anything).Return(nil)

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	d := New(ms, metrics)
	res := d.Detect(ctx, []model.Record{
		candidate("https://s.example/broken", "2", t1),
		candidate("https://s.example/update-fails", "2", t1),
		candidate("https://s.example/ok", "2", t1),
	})

	require.Len(t, res.Errors, 2)
	for _, err := range res.Errors {
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStore))
		assert.ErrorIs(t, err, boom)
	}
	assert.Contains(t, res.Errors[0].Error(), "https://s.example/broken")

	require.Len(t, res.Events, 1, "a change that failed to persist emits nothing")
	assert.Equal(t, int64(8), res.Events[0].RecordID)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Records.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Records.WithLabelValues("updated")))
	ms.AssertExpectations(t)
}
