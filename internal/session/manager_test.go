package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m3u8capture/pkg/model"
)

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(nil)
	s := m.Create("https://page.test", time.Second, nil)

	_, err := uuid.Parse(string(s.ID()))
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, s.State())

	got, ok := m.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, "https://page.test", list[0].TargetURL)

	m.Delete(s.ID())
	_, ok = m.Get(s.ID())
	assert.False(t, ok)
	assert.Empty(t, m.List())

	m.Delete(s.ID())
}

func TestManager_Cancel(t *testing.T) {
	m := NewManager(nil)
	ctx, cancel := context.WithCancel(context.Background())
	s := m.Create("https://page.test", time.Second, cancel)

	assert.True(t, m.Cancel(s.ID()))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, m.Cancel("missing"))
}

func TestManager_ConcurrentCreate(t *testing.T) {
	m := NewManager(nil)
	var wg sync.WaitGroup
	for n := 0; n < 50; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := m.Create("https://page.test", time.Second, nil)
			_ = m.List()
			_, _ = m.Get(s.ID())
		}()
	}
	wg.Wait()
	assert.Len(t, m.List(), 50)
}
