package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"videocap/internal/config"
	"videocap/internal/logger"
)

var (
	cfgFile string
	v       = config.New()
	rootCmd = &cobra.Command{
		Use:   "videocap",
		Short: "videocap - camera capture session",
		Long: `videocap opens the default camera, negotiates a capture format for the
requested frame rate and pixel format, and streams decoded frames to
observers.

Frame events can be watched over a WebSocket feed served by the
optional status server.`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human readable log output")
	rootCmd.PersistentFlags().String("backend", "", "camera backend (v4l2, synthetic)")
	rootCmd.PersistentFlags().String("device", "", "device path (default: first /dev/video*)")
	rootCmd.PersistentFlags().String("preset", "", "quality preset (high, medium, low)")
	rootCmd.PersistentFlags().Int("fps", 0, "desired frame rate (default is 30)")

	// Bind flags to viper
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
	_ = v.BindPFlag("camera.backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = v.BindPFlag("camera.device", rootCmd.PersistentFlags().Lookup("device"))
	_ = v.BindPFlag("camera.preset", rootCmd.PersistentFlags().Lookup("preset"))
	_ = v.BindPFlag("camera.frame_rate", rootCmd.PersistentFlags().Lookup("fps"))
}

func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
}

// loadConfig は設定を読み込み、ロガーを初期化する
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}

	logger.Init(cfg.Log.Level, cfg.Log.Pretty)
	return cfg, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
