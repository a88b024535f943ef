// Package probe 下载并解析已发现的清单，判断其为主清单还是媒体清单
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/grafov/m3u8"

	"m3u8capture/internal/logger"
	"m3u8capture/pkg/model"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxManifestBytes = 8 << 20
)

// ListType 清单类型
type ListType string

const (
	ListMaster ListType = "master"
	ListMedia  ListType = "media"
)

// Variant 主清单中的一个码率
type Variant struct {
	URL        string `json:"url"`
	Bandwidth  uint32 `json:"bandwidth"`
	Resolution string `json:"resolution,omitempty"`
}

// Info 清单摘要
type Info struct {
	URL            model.ManifestURL `json:"url"`
	Type           ListType          `json:"type"`
	Variants       []Variant         `json:"variants,omitempty"`
	MaxBandwidth   uint32            `json:"maxBandwidth,omitempty"`
	Segments       int               `json:"segments,omitempty"`
	TargetDuration float64           `json:"targetDuration,omitempty"`
	Live           bool              `json:"live"`
}

// Options 探测参数
type Options struct {
	Client    *http.Client
	UserAgent string
	Referer   string
	Timeout   time.Duration
	Logger    logger.Logger
}

// Prober 清单探测器
type Prober struct {
	client    *http.Client
	userAgent string
	referer   string
	log       logger.Logger
}

// New 创建探测器
func New(opts Options) *Prober {
	c := opts.Client
	if c == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c = &http.Client{Timeout: timeout}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Prober{client: c, userAgent: ua, referer: opts.Referer, log: l}
}

// Probe 下载并解析清单
func (p *Prober) Probe(ctx context.Context, u model.ManifestURL) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, string(u), nil)
	if err != nil {
		return Info{}, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	if p.referer != "" {
		req.Header.Set("Referer", p.referer)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("fetch %s: unexpected status %s", u, resp.Status)
	}

	pl, listType, err := m3u8.DecodeFrom(io.LimitReader(resp.Body, maxManifestBytes), true)
	if err != nil {
		return Info{}, fmt.Errorf("decode %s: %w", u, err)
	}

	info := Info{URL: u}
	switch listType {
	case m3u8.MASTER:
		info.Type = ListMaster
		base, _ := url.Parse(string(u))
		for _, v := range pl.(*m3u8.MasterPlaylist).Variants {
			if v == nil {
				continue
			}
			info.Variants = append(info.Variants, Variant{
				URL:        resolve(base, v.URI),
				Bandwidth:  v.Bandwidth,
				Resolution: v.Resolution,
			})
			info.MaxBandwidth = max(info.MaxBandwidth, v.Bandwidth)
		}
	case m3u8.MEDIA:
		media := pl.(*m3u8.MediaPlaylist)
		info.Type = ListMedia
		info.Segments = int(media.Count())
		info.TargetDuration = media.TargetDuration
		info.Live = !media.Closed
	}
	p.log.Debug("清单探测完成", "url", string(u), "type", info.Type, "variants", len(info.Variants), "segments", info.Segments)
	return info, nil
}

func resolve(base *url.URL, ref string) string {
	r, err := url.Parse(ref)
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(r).String()
}
