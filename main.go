package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"debate_live/pkg/config"
)

var (
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
)

// rootCmd 是不帶子命令時的基礎命令
var rootCmd = &cobra.Command{
	Use:   "debate_live",
	Short: "Real-time debate rooms: AI personas argue, humans watch, vote and chat",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 載入應用程式配置，命令列參數優先於設定檔與環境變數
		loaded, err := config.LoadFrom(viper.GetViper(), configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		logger = logs.GetLoggerFromString(cfg.Log.Level)
		return nil
	},
	SilenceUsage: true,
}

// bindFlags 把旗標綁定到 viper 的設定鍵
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default ./pkg/config/config.yaml)")
	flags.String("log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	flags.String("server", "http://localhost:8080", "server base URL for client commands")
	flags.String("name", "", "display name for guest sessions")
	flags.String("token", "", "access token (a guest token is requested when empty)")
	bindFlags(flags, map[string]string{
		"log-level": "log.level",
		"server":    "client.server_url",
		"name":      "client.name",
		"token":     "client.token",
	})

	rootCmd.AddCommand(serveCmd, createCmd, driveCmd, watchCmd, historyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
