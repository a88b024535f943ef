package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"m3u8capture/internal/config"
	"m3u8capture/internal/logger"
	"m3u8capture/internal/storage"
	"m3u8capture/pkg/api"
)

// errNothingFound 未发现任何地址，进程以 1 退出且不再打印错误
var errNothingFound = errors.New("no .m3u8 url found")

var (
	configFile string
	noHistory  bool
	jsonOutput bool

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "m3u8capture",
	Short: "Capture HLS manifest URLs from web pages",
	Long: `m3u8capture drives a Chrome instance over the DevTools protocol, watches the
page's network activity, console output and WebSocket frames, and prints every
distinct .m3u8 manifest URL it sees in first-seen order.

Recorded capture logs (Chrome performance logs or proxy JSON-lines dumps) can be
replayed through the same extraction pipeline.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db", "", "sqlite database for capture history")
	rootCmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "do not record capture history")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	bindKey("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	bindKey("sqlite.dsn", rootCmd.PersistentFlags().Lookup("db"))
}

// bindKey 将命令行参数绑定到配置键，参数显式设置时优先于配置文件与环境变量
func bindKey(key string, f *pflag.Flag) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", f.Name, err))
	}
}

// initializeConfig 依次应用默认值、配置文件与环境变量，已绑定的命令行参数优先
func initializeConfig(_ *cobra.Command) error {
	return config.Prepare(v, configFile)
}

// newService 根据最终配置创建日志、存储与服务
func newService() (api.Service, *config.Config, logger.Logger, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, nil, nil, err
	}
	l := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    cfg.Log.File,
		Console: os.Stderr,
	})

	var store *storage.Store
	if !noHistory && cfg.Sqlite.Dsn != "" {
		store, err = storage.Open(storage.Options{DSN: cfg.Sqlite.Dsn, Prefix: cfg.Sqlite.Prefix, Logger: l})
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return api.NewService(api.Options{Config: cfg, Logger: l, Store: store}), cfg, l, nil
}
