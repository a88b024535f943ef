package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m3u8capture/pkg/model"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{DSN: ":memory:", Prefix: "m3u8capture_"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_TablePrefix(t *testing.T) {
	s := openMemory(t)
	assert.True(t, s.db.Migrator().HasTable("m3u8capture_captures"))
	assert.True(t, s.db.Migrator().HasTable("m3u8capture_discoveries"))
}

func TestRecorder_RoundTrip(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	start := time.Now().Truncate(time.Millisecond)

	rec := s.Recorder("s1", "https://page.test")
	d1 := model.Discovery{URL: "https://a.test/a.m3u8", Source: model.SourceRequest, Seq: 1, Order: 0, FoundAt: start}
	d2 := model.Discovery{URL: "https://b.test/b.m3u8", Source: model.SourceConsole, Seq: 4, Order: 1, FoundAt: start}
	rec.Found(ctx, d1)
	rec.Found(ctx, d2)

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StateWatching, got.State)
	assert.Equal(t, []model.ManifestURL{"https://a.test/a.m3u8", "https://b.test/b.m3u8"}, got.URLs)

	rec.Finished(ctx, model.Result{
		SessionID:   "s1",
		TargetURL:   "https://page.test",
		State:       model.StateTimedOut,
		URLs:        []model.ManifestURL{d1.URL, d2.URL},
		Discoveries: []model.Discovery{d1, d2},
		StartedAt:   start,
		FinishedAt:  start.Add(time.Second),
	})

	got, err = s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StateTimedOut, got.State)
	assert.Equal(t, "https://page.test", got.TargetURL)
	assert.Len(t, got.URLs, 2)
	assert.WithinDuration(t, start.Add(time.Second), got.FinishedAt, time.Millisecond)
}

func TestStore_History(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	base := time.Now()
	for i, id := range []model.SessionID{"old", "mid", "new"} {
		require.NoError(t, s.Save(ctx, model.Result{
			SessionID: id,
			State:     model.StateTimedOut,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	hist, err := s.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, model.SessionID("new"), hist[0].ID)
	assert.Equal(t, model.SessionID("mid"), hist[1].ID)
	assert.Empty(t, hist[0].URLs)
}

func TestStore_GetMissing(t *testing.T) {
	s := openMemory(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
