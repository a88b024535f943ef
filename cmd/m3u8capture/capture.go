package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"m3u8capture/internal/config"
	"m3u8capture/internal/logger"
	"m3u8capture/internal/probe"
	"m3u8capture/internal/sink"
	"m3u8capture/pkg/api"
	"m3u8capture/pkg/model"
)

var (
	captureProbe  bool
	captureEvents bool
)

var captureCmd = &cobra.Command{
	Use:   "capture <url>",
	Short: "Open a page in Chrome and capture manifest URLs",
	Long: `Open the page in a new tab of the Chrome instance listening on --devtools and
watch its traffic until a manifest URL is found (--early-stop) or --max-wait
elapses. Chrome must be started with --remote-debugging-port.

Examples:
  # Stop at the first manifest
  m3u8capture capture https://example.com/watch/123

  # Collect everything seen within 30 seconds, reading all response bodies
  m3u8capture capture --early-stop=false --intercept https://example.com/live`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	f := captureCmd.Flags()
	f.Duration("max-wait", 0, "maximum time to watch the page (default from config, 30s)")
	f.Bool("early-stop", true, "stop as soon as the first manifest URL is found")
	f.String("devtools", "", "DevTools HTTP endpoint (default http://127.0.0.1:9222)")
	f.String("output", "", "file receiving one manifest URL per line")
	f.String("event-log", "", "append JSON-lines discovery events to this file")
	f.Bool("intercept", false, "intercept responses and scan every body")
	f.BoolVar(&captureProbe, "probe", false, "download each manifest and report master/media details")
	f.BoolVar(&captureEvents, "events", false, "stream found/finished events as JSON lines instead of the final URL list")

	bindKey("capture.max_wait", f.Lookup("max-wait"))
	bindKey("capture.early_stop", f.Lookup("early-stop"))
	bindKey("cdp.devtools_url", f.Lookup("devtools"))
	bindKey("capture.output", f.Lookup("output"))
	bindKey("capture.event_log", f.Lookup("event-log"))
	bindKey("cdp.intercept", f.Lookup("intercept"))
}

func runCapture(cmd *cobra.Command, args []string) error {
	svc, cfg, l, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := api.CaptureRequest{
		TargetURL: args[0],
		MaxWait:   cfg.Capture.MaxWait,
		EarlyStop: cfg.Capture.EarlyStop,
	}
	stdout := cmd.OutOrStdout()
	var events *eventOutput
	if captureEvents {
		events = newEventOutput(stdout)
		req.Sinks = append(req.Sinks, events.ch)
		stdout = io.Discard
	}

	res, err := svc.StartCapture(ctx, req)
	if err != nil {
		return err
	}
	events.wait(l)
	return report(ctx, stdout, cmd.ErrOrStderr(), res, cfg, l)
}

// eventOutput 将捕获事件逐行编码为 JSON 写出
type eventOutput struct {
	ch   *sink.Chan
	done chan struct{}
}

func newEventOutput(w io.Writer) *eventOutput {
	e := &eventOutput{ch: sink.NewChan("", 256), done: make(chan struct{})}
	go func() {
		defer close(e.done)
		enc := json.NewEncoder(w)
		for ev := range e.ch.Events() {
			_ = enc.Encode(ev)
		}
	}()
	return e
}

// wait 等待结束事件写出，仅在捕获正常结束后调用
func (e *eventOutput) wait(l logger.Logger) {
	if e == nil {
		return
	}
	<-e.done
	if n := e.ch.Dropped(); n > 0 {
		l.Warn("事件通道已满，部分事件未输出", "dropped", n)
	}
}

// report 打印结果，未发现地址时向 stderr 输出提示并返回 errNothingFound
func report(ctx context.Context, stdout, stderr io.Writer, res model.Result, cfg *config.Config, l logger.Logger) error {
	var infos []probe.Info
	if captureProbe {
		p := probe.New(probe.Options{Referer: res.TargetURL, Logger: l})
		for _, u := range res.URLs {
			info, err := p.Probe(ctx, u)
			if err != nil {
				l.Warn("清单探测失败", "url", string(u), "error", err)
				continue
			}
			infos = append(infos, info)
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			model.Result
			Probes []probe.Info `json:"probes,omitempty"`
		}{res, infos}); err != nil {
			return err
		}
	} else {
		for _, u := range res.URLs {
			fmt.Fprintln(stdout, u)
		}
		for _, info := range infos {
			printProbe(stdout, info)
		}
	}

	if !res.Found() {
		if !jsonOutput && cfg.Capture.Sentinel != "" {
			fmt.Fprintln(stderr, cfg.Capture.Sentinel)
		}
		return errNothingFound
	}
	return nil
}

func printProbe(w io.Writer, info probe.Info) {
	switch info.Type {
	case probe.ListMaster:
		fmt.Fprintf(w, "# %s master variants=%d max_bandwidth=%d\n", info.URL, len(info.Variants), info.MaxBandwidth)
		for _, v := range info.Variants {
			fmt.Fprintf(w, "#   %d %s %s\n", v.Bandwidth, v.Resolution, v.URL)
		}
	case probe.ListMedia:
		fmt.Fprintf(w, "# %s media segments=%d target_duration=%.1f live=%t\n", info.URL, info.Segments, info.TargetDuration, info.Live)
	}
}
