package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"videocap/internal/camera"
	"videocap/internal/capture"
	"videocap/internal/config"
	"videocap/internal/logger"
)

// SessionStatus はサーバーが参照するセッションの状態
type SessionStatus interface {
	ID() string
	State() capture.State
	Preset() camera.Preset
	Device() (camera.DeviceInfo, bool)
	ActiveFormat() (camera.Format, bool)
	Formats() []camera.Format
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	session    SessionStatus
	hub        *EventHub
	stats      *capture.FrameCounter
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *zerolog.Logger
}

// New は新しいServerインスタンスを作成する
// stats はnilでもよい
func New(cfg *config.Config, session SessionStatus, hub *EventHub, stats *capture.FrameCounter) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		config:  cfg,
		session: session,
		hub:     hub,
		stats:   stats,
		engine:  engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.WithComponent("server"),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	s.setupRoutes()
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	// APIエンドポイント
	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/formats", s.handleFormats)
	api.GET("/events", s.handleEvents)

	// ルートハンドラ（簡単な確認用）
	s.engine.GET("/", s.handleRoot)
}

// FormatResponse はフォーマットのJSON表現
type FormatResponse struct {
	Width           int                     `json:"width"`
	Height          int                     `json:"height"`
	Subtype         string                  `json:"subtype"`
	SubtypeCode     uint32                  `json:"subtype_code"`
	FrameRateRanges []camera.FrameRateRange `json:"frame_rate_ranges"`
}

func newFormatResponse(f camera.Format) FormatResponse {
	ranges := f.FrameRateRanges
	if ranges == nil {
		ranges = []camera.FrameRateRange{}
	}
	return FormatResponse{
		Width:           f.Dimensions.Width,
		Height:          f.Dimensions.Height,
		Subtype:         f.Subtype.String(),
		SubtypeCode:     uint32(f.Subtype),
		FrameRateRanges: ranges,
	}
}

// StatusResponse は /api/status のレスポンス
type StatusResponse struct {
	Status       string              `json:"status"`
	SessionID    string              `json:"session_id"`
	Preset       string              `json:"preset,omitempty"`
	Device       *camera.DeviceInfo  `json:"device,omitempty"`
	ActiveFormat *FormatResponse     `json:"active_format,omitempty"`
	Stats        *capture.FrameStats `json:"stats,omitempty"`
	Subscribers  int                 `json:"subscribers"`
	Server       ServerInfo          `json:"server"`
	Timestamp    time.Time           `json:"timestamp"`
}

// ServerInfo はサーバー設定のJSON表現
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ErrorResponse はエラーレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	response := StatusResponse{
		Status:      s.session.State().String(),
		SessionID:   s.session.ID(),
		Preset:      string(s.session.Preset()),
		Subscribers: s.hub.Subscribers(),
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		Timestamp: time.Now(),
	}

	if info, ok := s.session.Device(); ok {
		response.Device = &info
	}
	if f, ok := s.session.ActiveFormat(); ok {
		fr := newFormatResponse(f)
		response.ActiveFormat = &fr
	}
	if s.stats != nil {
		stats := s.stats.Snapshot()
		response.Stats = &stats
	}

	c.JSON(http.StatusOK, response)
}

// handleFormats はデバイスのフォーマット一覧エンドポイント
func (s *Server) handleFormats(c *gin.Context) {
	if _, ok := s.session.Device(); !ok {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:     "session_not_configured",
			Message:   "セッションが設定されていません",
			Timestamp: time.Now(),
		})
		return
	}

	formats := s.session.Formats()
	response := make([]FormatResponse, 0, len(formats))
	for _, f := range formats {
		response = append(response, newFormatResponse(f))
	}
	c.JSON(http.StatusOK, gin.H{"formats": response})
}

// handleEvents はフレーム通知をWebSocketで配信する
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocketのアップグレードに失敗")
		return
	}
	defer conn.Close()

	events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(events)

	// クライアントからの切断を検知する
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug().Err(err).Msg("WebSocketへの書き込みに失敗")
				return
			}
		}
	}
}

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(`<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>videocap</title>
</head>
<body>
    <h1>videocap</h1>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>フォーマット: <a href="/api/formats">/api/formats</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`))
}

// Start はサーバーを起動し、ctxがキャンセルされるまで待つ
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	serveErr := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("コンテキストがキャンセルされました")
	case err := <-serveErr:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("サーバーをシャットダウンしています...")

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// WebSocketの購読を先に終わらせる
	s.hub.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}
