package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"m3u8capture/pkg/api"
)

var replayCmd = &cobra.Command{
	Use:   "replay <log-file>",
	Short: "Extract manifest URLs from a recorded capture log",
	Long: `Run the extraction pipeline over a JSON-lines capture log: Chrome performance
log entries or proxy records. Lines appended while the command runs are picked up
until --max-wait elapses.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	f := replayCmd.Flags()
	f.Duration("max-wait", 0, "how long to follow the log (default from config)")
	f.Bool("early-stop", true, "stop as soon as the first manifest URL is found")
	f.String("output", "", "file receiving one manifest URL per line")
	f.BoolVar(&captureProbe, "probe", false, "download each manifest and report master/media details")
	f.BoolVar(&captureEvents, "events", false, "stream found/finished events as JSON lines instead of the final URL list")
}

func runReplay(cmd *cobra.Command, args []string) error {
	// 与 capture 共用配置键，仅在本命令执行时绑定
	bindKey("capture.max_wait", cmd.Flags().Lookup("max-wait"))
	bindKey("capture.early_stop", cmd.Flags().Lookup("early-stop"))
	bindKey("capture.output", cmd.Flags().Lookup("output"))

	svc, cfg, l, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := api.ReplayRequest{
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

	res, err := svc.Replay(ctx, args[0], req)
	if err != nil {
		return err
	}
	events.wait(l)
	return report(ctx, stdout, cmd.ErrOrStderr(), res, cfg, l)
}
