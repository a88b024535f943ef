package sink

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"m3u8capture/internal/capture"
	"m3u8capture/internal/logger"
	"m3u8capture/pkg/model"
)

func TestChan_DeliversAndCloses(t *testing.T) {
	s := NewChan("s1", 4)
	ctx := context.Background()
	s.Found(ctx, model.Discovery{URL: "https://a.test/a.m3u8"})
	s.Finished(ctx, model.Result{State: model.StateFound, URLs: []model.ManifestURL{"https://a.test/a.m3u8"}})

	var got []Event
	for ev := range s.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, EventFound, got[0].Type)
	assert.Equal(t, model.SessionID("s1"), got[0].Session)
	assert.Equal(t, model.ManifestURL("https://a.test/a.m3u8"), got[0].Discovery.URL)
	assert.Equal(t, EventFinished, got[1].Type)
	assert.Equal(t, model.StateFound, got[1].Result.State)
	assert.NotZero(t, got[1].Timestamp)
}

func TestChan_DropsWhenFull(t *testing.T) {
	s := NewChan("s1", 1)
	ctx := context.Background()
	s.Found(ctx, model.Discovery{URL: "https://a.test/1.m3u8"})
	s.Found(ctx, model.Discovery{URL: "https://a.test/2.m3u8"})
	s.Finished(ctx, model.Result{})

	assert.Equal(t, 2, s.Dropped())
	ev, ok := <-s.Events()
	require.True(t, ok)
	assert.Equal(t, model.ManifestURL("https://a.test/1.m3u8"), ev.Discovery.URL)
	_, ok = <-s.Events()
	assert.False(t, ok)
}

func TestChan_SessionFromResult(t *testing.T) {
	s := NewChan("", 4)
	ctx := context.Background()
	s.Found(ctx, model.Discovery{URL: "https://a.test/a.m3u8"})
	s.Finished(ctx, model.Result{SessionID: "s9"})

	found := <-s.Events()
	assert.Empty(t, found.Session)
	finished := <-s.Events()
	assert.Equal(t, model.SessionID("s9"), finished.Session)
}

type counting struct{ found, finished int }

func (c *counting) Found(context.Context, model.Discovery) { c.found++ }
func (c *counting) Finished(context.Context, model.Result) { c.finished++ }

func TestMulti_FansOut(t *testing.T) {
	a, b := &counting{}, &counting{}
	var m capture.Sink = Multi{a, nil, b}
	m.Found(context.Background(), model.Discovery{})
	m.Found(context.Background(), model.Discovery{})
	m.Finished(context.Background(), model.Result{})
	assert.Equal(t, 2, a.found)
	assert.Equal(t, 2, b.found)
	assert.Equal(t, 1, b.finished)
}

func TestLog_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	s := NewLog(logger.NewWithWriter(&buf, zerolog.DebugLevel))
	s.Found(context.Background(), model.Discovery{URL: "https://a.test/a.m3u8", Source: model.SourceConsole})

	line := gjson.Parse(buf.String())
	assert.Equal(t, "https://a.test/a.m3u8", line.Get("url").String())
	assert.Equal(t, model.SourceConsole, line.Get("source").String())
}
