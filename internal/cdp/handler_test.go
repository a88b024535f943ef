package cdp

import (
	"context"
	"testing"

	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m3u8capture/internal/feed"
	"m3u8capture/internal/logger"
	"m3u8capture/pkg/traffic"
)

func newTestFeed() *Feed {
	return &Feed{log: logger.NewNop(), queue: feed.NewQueue()}
}

func response(id network.RequestID, url string) *network.ResponseReceivedReply {
	return &network.ResponseReceivedReply{
		RequestID: id,
		Response:  network.Response{URL: url, MimeType: "application/json"},
	}
}

func pull(t *testing.T, f *Feed) []traffic.Record {
	t.Helper()
	recs, err := f.Pull(context.Background())
	require.NoError(t, err)
	return recs
}

func TestResponseQueuedAfterLoadingFinished(t *testing.T) {
	f := newTestFeed()

	f.onResponse(response("1", "https://api.test/player"))
	assert.Empty(t, pull(t, f))

	f.onLoadingFinished(&network.LoadingFinishedReply{RequestID: "1"})
	recs := pull(t, f)
	require.Len(t, recs, 1)
	assert.Equal(t, traffic.KindResponse, recs[0].Kind)
	assert.Equal(t, "1", recs[0].ID)
	assert.Equal(t, "https://api.test/player", recs[0].URL)

	f.onLoadingFinished(&network.LoadingFinishedReply{RequestID: "1"})
	assert.Empty(t, pull(t, f))
}

func TestLoadingFinishedBeforeResponse(t *testing.T) {
	f := newTestFeed()

	f.onLoadingFinished(&network.LoadingFinishedReply{RequestID: "2"})
	assert.Empty(t, pull(t, f))

	f.onResponse(response("2", "https://api.test/config"))
	recs := pull(t, f)
	require.Len(t, recs, 1)
	assert.Equal(t, "https://api.test/config", recs[0].URL)
}

func TestLoadingFailedDropsResponse(t *testing.T) {
	f := newTestFeed()

	f.onResponse(response("3", "https://api.test/broken"))
	f.onLoadingFailed(&network.LoadingFailedReply{RequestID: "3"})
	f.onLoadingFinished(&network.LoadingFinishedReply{RequestID: "3"})
	assert.Empty(t, pull(t, f))

	f.onLoadingFailed(&network.LoadingFailedReply{RequestID: "4"})
	f.onResponse(response("4", "https://api.test/other"))
	assert.Empty(t, pull(t, f))
}
