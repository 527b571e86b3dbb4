package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"sjsage522/modaggregator/internal/model"
	apperrors "sjsage522/modaggregator/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, event model.ChangeEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockNotifier) Close() error {
	return m.Called().Error(0)
}

type mockTrimNotifier struct {
	mockNotifier
}

func (m *mockTrimNotifier) TrimStreams(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestMultiNotifierFansOut(t *testing.T) {
	ctx := context.Background()
	event := model.ChangeEvent{RecordID: 1, URL: "https://s.example/a"}
	boom := errors.New("redis down")

	failing := new(mockNotifier)
	failing.On("Notify", ctx, event).Return(boom)
	failing.On("Close").Return(nil)
	working := new(mockTrimNotifier)
	working.On("Notify", ctx, event).Return(nil)
	working.On("TrimStreams", ctx).Return(nil)
	working.On("Close").Return(nil)

	multi := MultiNotifier{failing, working}
	err := multi.Notify(ctx, event)
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, multi.TrimStreams(ctx))
	assert.NoError(t, multi.Close())
	failing.AssertExpectations(t)
	working.AssertExpectations(t)
}

type memoryNotifications struct {
	added []model.Notification
	err   error
}

func (m *memoryNotifications) Add(_ context.Context, n *model.Notification) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.added = append(m.added, *n)
	return int64(len(m.added)), nil
}

func TestStoreNotifier(t *testing.T) {
	ctx := context.Background()
	notes := &memoryNotifications{}
	n := NewStoreNotifier(notes)
	n.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, n.Notify(ctx, model.ChangeEvent{RecordID: 4, SiteID: 2, Title: "Roads", OldVersion: "1.0", NewVersion: "1.1"}))
	require.NoError(t, n.Notify(ctx, model.ChangeEvent{RecordID: 5, SiteID: 2, Title: "Sky"}))

	require.Len(t, notes.added, 2)
	assert.Equal(t, "Mod update: Roads", notes.added[0].Title)
	assert.Equal(t, "Version changed: 1.0 → 1.1", notes.added[0].Message)
	assert.Equal(t, int64(4), notes.added[0].RecordID)
	assert.Equal(t, "Mod updated", notes.added[1].Message)

	// Same version, newer timestamp: a changelog or description edit.
	require.NoError(t, n.Notify(ctx, model.ChangeEvent{RecordID: 4, Title: "Roads", OldVersion: "1.1", NewVersion: "1.1"}))
	assert.Equal(t, "Mod updated", notes.added[2].Message)

	notes.err = errors.New("disk full")
	err := n.Notify(ctx, model.ChangeEvent{RecordID: 6})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotify))
}
