package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"videocap/internal/camera"
	"videocap/internal/capture"
	"videocap/internal/config"
	"videocap/internal/logger"
	"videocap/internal/server"
)

// statsInterval は統計ログの出力間隔
const statsInterval = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start capturing from the default camera",
	Long: `Configure a capture session on the default camera and stream frames until
interrupted. The status server exposes /api/status, /api/formats and a
WebSocket frame event feed on /api/events.`,
	Example: `  # Capture at 30 fps with the high preset
  videocap serve

  # Use the synthetic test camera on port 9090
  videocap serve --backend synthetic --port 9090

  # Request 15 fps with the low preset and no HTTP server
  videocap serve --preset low --fps 15 --no-server`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "server port (default is 8080)")
	serveCmd.Flags().Bool("no-server", false, "do not start the status server")

	_ = v.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noServer, _ := cmd.Flags().GetBool("no-server"); noServer {
		cfg.Server.Enabled = false
	}
	log := logger.WithComponent("cli")

	session, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("セッションのクローズに失敗")
		}
	}()

	counter := capture.NewFrameCounter()
	hub := server.NewEventHub()
	session.SetObserver(capture.Observers(counter, hub))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := configure(ctx, session, cfg.Preset(), cfg.Camera.FrameRate); err != nil {
		return err
	}

	session.Start()
	defer session.Stop()

	go logStats(ctx, counter)

	if !cfg.Server.Enabled {
		log.Info().Msg("Ctrl+Cで停止します")
		<-ctx.Done()
		return nil
	}

	srv := server.New(cfg, session, hub, counter)
	return srv.Start(ctx)
}

// newSession は設定されたバックエンドでセッションを作成する
func newSession(cfg *config.Config) (*capture.Session, error) {
	provider, err := camera.NewProviderFactory().CreateProvider(cfg.Camera.Backend, camera.ProviderConfig{
		Device: cfg.Camera.Device,
	})
	if err != nil {
		return nil, fmt.Errorf("カメラバックエンドの作成に失敗: %w", err)
	}

	subtype, err := cfg.Subtype()
	if err != nil {
		return nil, err
	}

	return capture.NewSession(provider, capture.WithRequiredSubtype(subtype)), nil
}

// configure はセッションを設定し、完了通知を待つ
func configure(ctx context.Context, session *capture.Session, preset camera.Preset, fps int) error {
	done := make(chan bool, 1)
	session.Configure(preset, fps, func(ok bool) { done <- ok })

	select {
	case ok := <-done:
		if !ok {
			return errors.New("キャプチャセッションの設定に失敗しました")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// logStats は定期的にフレーム統計をログに出す
func logStats(ctx context.Context, counter *capture.FrameCounter) {
	log := logger.WithComponent("stats")
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := counter.Snapshot()
			log.Info().
				Uint64("frames", s.Frames).
				Uint64("dropped", s.Dropped).
				Float64("fps", s.FPS).
				Int("width", s.Width).
				Int("height", s.Height).
				Msg("フレーム統計")
		}
	}
}
