package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m3u8capture/internal/matcher"
	"m3u8capture/pkg/model"
	"m3u8capture/pkg/traffic"
)

// scriptedFeed 每次 Pull 返回预设批次，之后返回空批次
type scriptedFeed struct {
	mu      sync.Mutex
	batches [][]traffic.Record
	err     error
	pulls   int
	bodies  map[string]string
}

func (f *scriptedFeed) Pull(ctx context.Context) ([]traffic.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		return b, nil
	}
	return nil, f.err
}

func (f *scriptedFeed) FetchBody(_ context.Context, id string) ([]byte, error) {
	b, ok := f.bodies[id]
	if !ok {
		return nil, errors.New("no body")
	}
	return []byte(b), nil
}

type recordingSink struct {
	mu       sync.Mutex
	found    []model.Discovery
	finished []model.Result
}

func (s *recordingSink) Found(_ context.Context, d model.Discovery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.found = append(s.found, d)
}

func (s *recordingSink) Finished(_ context.Context, r model.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, r)
}

func req(seq uint64, url string) traffic.Record {
	return traffic.Record{Seq: seq, Kind: traffic.KindRequest, URL: url}
}

func TestRun_EarlyStopRequestSent(t *testing.T) {
	feed := &scriptedFeed{batches: [][]traffic.Record{{req(1, "https://cdn.example.com/live/index.m3u8?token=abc")}}}
	sink := &recordingSink{}

	res, err := NewEngine(Config{}).Run(context.Background(), feed, Options{
		MaxWait:      5 * time.Second,
		PollInterval: 10 * time.Millisecond,
		EarlyStop:    true,
		Sink:         sink,
	})

	require.NoError(t, err)
	assert.Equal(t, model.StateFound, res.State)
	assert.Equal(t, []model.ManifestURL{"https://cdn.example.com/live/index.m3u8?token=abc"}, res.URLs)
	require.Len(t, sink.found, 1)
	assert.Equal(t, model.SourceRequest, sink.found[0].Source)
	require.Len(t, sink.finished, 1)
	assert.Equal(t, model.StateFound, sink.finished[0].State)
	assert.Equal(t, 1, feed.pulls)
}

func TestRun_CollectAllResponseBody(t *testing.T) {
	feed := &scriptedFeed{
		batches: [][]traffic.Record{{
			{Seq: 1, Kind: traffic.KindResponse, ID: "r1", URL: "https://api.test/player", MimeType: "application/json"},
		}},
		bodies: map[string]string{"r1": `{"src":"https://x.test/a.m3u8"}`},
	}

	start := time.Now()
	res, err := NewEngine(Config{}).Run(context.Background(), feed, Options{
		MaxWait:      60 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		EarlyStop:    false,
	})

	require.NoError(t, err)
	assert.Equal(t, model.StateTimedOut, res.State)
	assert.Equal(t, []model.ManifestURL{"https://x.test/a.m3u8"}, res.URLs)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRun_TimeoutWithNothingFound(t *testing.T) {
	feed := &scriptedFeed{batches: [][]traffic.Record{{req(1, "https://a.test/app.js"), req(2, "https://a.test/video.mp4")}}}
	sink := &recordingSink{}

	res, err := NewEngine(Config{}).Run(context.Background(), feed, Options{
		MaxWait:      40 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		EarlyStop:    true,
		Sink:         sink,
	})

	require.NoError(t, err)
	assert.Equal(t, model.StateTimedOut, res.State)
	assert.Empty(t, res.URLs)
	assert.Empty(t, sink.found)
	require.Len(t, sink.finished, 1)
}

func TestRun_CollectAllPreservesFirstSeenOrder(t *testing.T) {
	feed := &scriptedFeed{batches: [][]traffic.Record{
		{req(1, "https://b.test/second-host-first.m3u8")},
		{},
		{req(2, "https://a.test/later.m3u8"), req(3, "https://b.test/second-host-first.m3u8")},
	}}
	sink := &recordingSink{}

	res, err := NewEngine(Config{}).Run(context.Background(), feed, Options{
		MaxWait:      80 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Sink:         sink,
	})

	require.NoError(t, err)
	assert.Equal(t, model.StateTimedOut, res.State)
	assert.Equal(t, []model.ManifestURL{"https://b.test/second-host-first.m3u8", "https://a.test/later.m3u8"}, res.URLs)
	require.Len(t, res.Discoveries, 2)
	assert.Equal(t, 0, res.Discoveries[0].Order)
	assert.Equal(t, 1, res.Discoveries[1].Order)
	assert.Len(t, sink.found, 2)
}

func TestRun_DuplicateSequenceNotRematched(t *testing.T) {
	rec := traffic.Record{Seq: 5, Kind: traffic.KindPayload, Source: model.SourceWebSocket, Body: []byte("https://w.test/a.m3u8 https://w.test/b.m3u8")}
	feed := &scriptedFeed{batches: [][]traffic.Record{{rec}, {rec}, {rec}}}

	e := NewEngine(Config{})
	calls := 0
	e.extract = func(s string) []model.ManifestURL {
		calls++
		return matcher.Extract(s)
	}

	res, err := e.Run(context.Background(), feed, Options{MaxWait: 40 * time.Millisecond, PollInterval: 5 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, res.URLs, 2)
}

func TestRun_RedirectAndPayloadSources(t *testing.T) {
	redirect := traffic.NewRecord(traffic.KindRedirect)
	redirect.Seq = 1
	redirect.Headers.Set("Location", "https://edge.test/r.m3u8")
	feed := &scriptedFeed{batches: [][]traffic.Record{{
		redirect,
		{Seq: 2, Kind: traffic.KindPayload, Source: model.SourceConsole, Body: []byte("M3U8_HLS_LOAD:https://h.test/h.m3u8")},
	}}}
	sink := &recordingSink{}

	res, err := NewEngine(Config{}).Run(context.Background(), feed, Options{MaxWait: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond, Sink: sink})

	require.NoError(t, err)
	assert.Equal(t, []model.ManifestURL{"https://edge.test/r.m3u8", "https://h.test/h.m3u8"}, res.URLs)
	require.Len(t, sink.found, 2)
	assert.Equal(t, model.SourceRedirect, sink.found[0].Source)
	assert.Equal(t, model.SourceConsole, sink.found[1].Source)
}

func TestRun_FeedUnavailableIsFatal(t *testing.T) {
	feed := &scriptedFeed{err: errors.New("connection refused")}
	sink := &recordingSink{}

	res, err := NewEngine(Config{}).Run(context.Background(), feed, Options{MaxWait: time.Second, Sink: sink})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.Equal(t, model.StateFailed, res.State)
	assert.Empty(t, sink.finished)
}

func TestRun_FeedBreakAfterPullKeepsCollected(t *testing.T) {
	feed := &scriptedFeed{
		batches: [][]traffic.Record{{req(1, "https://cdn.test/a.m3u8")}},
		err:     errors.New("websocket: close 1006"),
	}
	sink := &recordingSink{}

	res, err := NewEngine(Config{}).Run(context.Background(), feed, Options{
		MaxWait:      time.Minute,
		PollInterval: 5 * time.Millisecond,
		EarlyStop:    false,
		Sink:         sink,
	})

	require.NoError(t, err)
	assert.Equal(t, model.StateTimedOut, res.State)
	assert.Equal(t, []model.ManifestURL{"https://cdn.test/a.m3u8"}, res.URLs)
	require.Len(t, sink.finished, 1)
	assert.Equal(t, res.URLs, sink.finished[0].URLs)
	assert.Equal(t, 2, feed.pulls)
}

func TestRun_CancellationReturnsCollected(t *testing.T) {
	feed := &scriptedFeed{batches: [][]traffic.Record{{req(1, "https://a.test/a.m3u8")}}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	res, err := NewEngine(Config{}).Run(ctx, feed, Options{MaxWait: 10 * time.Second, PollInterval: 5 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, model.StateTimedOut, res.State)
	assert.Equal(t, []model.ManifestURL{"https://a.test/a.m3u8"}, res.URLs)
	assert.Less(t, time.Since(start), 5*time.Second)
}

type notifyingFeed struct {
	scriptedFeed
	ready chan struct{}
}

func (f *notifyingFeed) Ready() <-chan struct{} { return f.ready }

func TestRun_NotifierWakesIdleWait(t *testing.T) {
	feed := &notifyingFeed{ready: make(chan struct{}, 1)}
	go func() {
		time.Sleep(20 * time.Millisecond)
		feed.mu.Lock()
		feed.batches = append(feed.batches, []traffic.Record{req(1, "https://late.test/l.m3u8")})
		feed.mu.Unlock()
		feed.ready <- struct{}{}
	}()

	start := time.Now()
	res, err := NewEngine(Config{}).Run(context.Background(), feed, Options{
		MaxWait:      5 * time.Second,
		PollInterval: 2 * time.Second,
		EarlyStop:    true,
	})

	require.NoError(t, err)
	assert.Equal(t, model.StateFound, res.State)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSession_ForwardOnlyTransitions(t *testing.T) {
	s := NewSession("s1", "https://page.test", time.Second)
	assert.False(t, s.transition(model.StateFound, time.Now()), "idle cannot finish")
	assert.True(t, s.Info().Deadline.IsZero())

	now := time.Now()
	s.start(now)
	assert.Equal(t, model.StateWatching, s.State())
	assert.Equal(t, now.Add(time.Second), s.Info().Deadline)
	assert.False(t, s.transition(model.StateWatching, time.Now()))
	assert.True(t, s.transition(model.StateTimedOut, time.Now()))
	assert.False(t, s.transition(model.StateFound, time.Now()))
	assert.Equal(t, model.StateTimedOut, s.State())
}

func TestSession_ProcessedOnlyGrows(t *testing.T) {
	s := NewSession("s1", "", time.Second)
	assert.True(t, s.markProcessed(1))
	assert.False(t, s.markProcessed(1))
	assert.True(t, s.markProcessed(2))
	assert.True(t, s.markProcessed(0))
	assert.True(t, s.markProcessed(0))
}

func TestRun_IndependentSessionsConcurrently(t *testing.T) {
	e := NewEngine(Config{})
	var wg sync.WaitGroup
	results := make([]model.Result, 4)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			url := "https://s.test/" + string(rune('a'+i)) + ".m3u8"
			feed := &scriptedFeed{batches: [][]traffic.Record{{req(1, url)}}}
			res, err := e.Run(context.Background(), feed, Options{
				SessionID: model.SessionID(url),
				MaxWait:   time.Second,
				EarlyStop: true,
			})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()
	for i, r := range results {
		assert.Equal(t, []model.ManifestURL{model.ManifestURL("https://s.test/" + string(rune('a'+i)) + ".m3u8")}, r.URLs)
	}
}
