package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"videocap/internal/camera"
	"videocap/internal/logger"
)

var (
	// ErrInputCreationFailed はデバイスから入力を作れなかったことを表す
	ErrInputCreationFailed = errors.New("デバイス入力の作成に失敗")
	// ErrAlreadyConfigured は設定済みのセッションを再設定しようとしたことを表す
	ErrAlreadyConfigured = errors.New("セッションは既に設定済みです")
	// ErrInvalidFrameRate はフレームレートが正でないか大きすぎることを表す
	ErrInvalidFrameRate = errors.New("無効なフレームレート")
	// ErrSessionClosed は閉じたセッションを操作したことを表す
	ErrSessionClosed = errors.New("セッションは閉じられています")
)

// DefaultFrameRate は指定がない場合のフレームレート
const DefaultFrameRate = 30

// State はセッションの状態
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// DeviceInput はオープン済みのデバイスをセッションの入力として包む
type DeviceInput struct {
	device camera.Device
}

// NewDeviceInput はデバイスを開いて入力を作成する
func NewDeviceInput(dev camera.Device) (*DeviceInput, error) {
	if dev == nil {
		return nil, camera.ErrNoDeviceAvailable
	}
	if err := dev.Open(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputCreationFailed, err)
	}
	return &DeviceInput{device: dev}, nil
}

// Device は入力のデバイスを返す
func (in *DeviceInput) Device() camera.Device {
	return in.device
}

// Close はデバイスを閉じる
func (in *DeviceInput) Close() error {
	return in.device.Close()
}

// Option はセッションの設定
type Option func(*Session)

// WithCallbackQueue は完了通知を実行するキューを指定する
// 指定しない場合はセッション専用の "main" キューを使う
func WithCallbackQueue(d Dispatcher) Option {
	return func(s *Session) {
		s.callbacks = d
	}
}

// WithRequiredSubtype はフォーマット探索で要求するピクセル形式を指定する
func WithRequiredSubtype(subtype camera.Subtype) Option {
	return func(s *Session) {
		s.requiredSubtype = subtype
	}
}

// Session はカメラから映像を取得し、Observerにフレームを通知する
//
// 設定、開始、停止、フレーム通知はすべてセッションのワーカー上で
// 順番に実行される。設定は一度だけ行える。
type Session struct {
	id              string
	provider        camera.Provider
	requiredSubtype camera.Subtype
	queue           *Queue
	callbacks       Dispatcher
	mainQueue       *Queue
	logger          *zerolog.Logger

	mu       sync.RWMutex
	state    State
	closed   bool
	preset   camera.Preset
	input    *DeviceInput
	output   *FrameOutput
	preview  *PreviewLayer
	observer Observer
}

// NewSession は新しいセッションを作成する
func NewSession(provider camera.Provider, opts ...Option) *Session {
	id := uuid.New().String()
	s := &Session{
		id:              id,
		provider:        provider,
		requiredSubtype: camera.SubtypeFullRange420,
		logger:          logger.WithComponent("capture"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.queue = NewQueue("session:" + id)
	if s.callbacks == nil {
		s.mainQueue = NewQueue("main")
		s.callbacks = s.mainQueue
	}

	l := s.logger.With().Str("session_id", id).Logger()
	s.logger = &l
	return s
}

// ID はセッションIDを返す
func (s *Session) ID() string {
	return s.id
}

// Configure はワーカー上でセッションを設定し、結果を completion に渡す
// completion はコールバックキューで呼ばれる
func (s *Session) Configure(preset camera.Preset, desiredFrameRate int, completion func(bool)) {
	if !s.queue.Async(func() {
		err := s.configure(preset, desiredFrameRate)
		if err != nil {
			s.logger.Error().Err(err).Msg("セッションの設定に失敗")
		}
		s.complete(completion, err == nil)
	}) {
		s.logger.Warn().Msg("セッションは閉じられています")
		s.complete(completion, false)
	}
}

// ConfigureWait はセッションを設定し、完了するまで待つ
// Observerの通知中に呼んではならない
func (s *Session) ConfigureWait(preset camera.Preset, desiredFrameRate int) error {
	var err error
	if !s.queue.Sync(func() {
		err = s.configure(preset, desiredFrameRate)
	}) {
		return ErrSessionClosed
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("セッションの設定に失敗")
	}
	return err
}

func (s *Session) complete(completion func(bool), ok bool) {
	if completion == nil {
		return
	}
	// コールバックキューが閉じている場合はその場で呼ぶ
	if !s.callbacks.Async(func() { completion(ok) }) {
		s.logger.Warn().Bool("ok", ok).Msg("コールバックキューが閉じているため完了通知を直接呼びます")
		completion(ok)
	}
}

// configure はワーカー上で実行される
func (s *Session) configure(preset camera.Preset, desiredFrameRate int) (err error) {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != StateUnconfigured {
		return ErrAlreadyConfigured
	}
	if desiredFrameRate <= 0 || desiredFrameRate > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrInvalidFrameRate, desiredFrameRate)
	}
	preset, err = camera.ParsePreset(string(preset))
	if err != nil {
		return err
	}

	dev, err := s.provider.DefaultDevice(context.Background())
	if err != nil {
		return fmt.Errorf("デフォルトデバイスの取得に失敗: %w", err)
	}

	// beginConfiguration
	input, err := NewDeviceInput(dev)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			if cerr := input.Close(); cerr != nil {
				s.logger.Warn().Err(cerr).Msg("入力のクローズに失敗")
			}
		}
	}()

	// 入力の追加時にプリセットを反映する
	if err := dev.ApplyPreset(preset); err != nil {
		s.logger.Warn().Err(err).Str("preset", string(preset)).Msg("プリセットの適用に失敗")
	}

	preview := newPreviewLayer(s)

	output := NewFrameOutput()
	output.SetPixelLayout(camera.PixelLayoutBGRA32)
	output.SetAlwaysDiscardsLateFrames(true)
	output.setSampleDelegate(s.deliver, s.queue)

	// 追加すると接続の向きが既定値に戻るので、追加後に設定する
	conn := output.attach()
	conn.SetOrientation(OrientationPortrait)

	s.negotiateFormat(dev, desiredFrameRate)

	active := dev.ActiveFormat()
	minDur, maxDur := dev.FrameDurations()
	s.logger.Info().
		Str("device", dev.Info().Name).
		Str("format", active.String()).
		Str("min_frame_duration", minDur.String()).
		Str("max_frame_duration", maxDur.String()).
		Msg("カメラフォーマット")

	// commitConfiguration
	s.mu.Lock()
	s.input = input
	s.output = output
	s.preview = preview
	s.preset = preset
	s.state = StateConfigured
	s.mu.Unlock()
	committed = true
	return nil
}

// negotiateFormat は条件を満たす最初のフォーマットをデバイスに設定する
// ロックに失敗した候補は飛ばして次を試す
func (s *Session) negotiateFormat(dev camera.Device, desiredFrameRate int) {
	current := dev.ActiveFormat().Dimensions
	choices := camera.MatchingFormats(dev.Formats(), current, desiredFrameRate, s.requiredSubtype)
	if len(choices) == 0 {
		s.logger.Info().
			Int("frame_rate", desiredFrameRate).
			Str("dimensions", current.String()).
			Str("subtype", s.requiredSubtype.String()).
			Msg("条件を満たすフォーマットがないため現在のフォーマットを使います")
		return
	}

	for _, choice := range choices {
		if err := camera.ApplyFormat(dev, choice); err != nil {
			s.logger.Warn().Err(err).Int("index", choice.Index).Str("format", choice.Format.String()).Msg("フォーマットを設定できませんでした")
			continue
		}
		return
	}
}

// deliver はワーカー上でフレームを通知する
func (s *Session) deliver(sample camera.Sample) {
	s.mu.RLock()
	observer := s.observer
	preview := s.preview
	s.mu.RUnlock()

	if sample.Buffer != nil && preview != nil {
		preview.update(sample.Buffer, sample.Timestamp)
	}
	if observer != nil {
		observer.OnFrame(s, sample.Buffer, sample.Timestamp)
	}
}

// Start はキャプチャを開始する。実行中であれば何もしない
// Observerの通知中に呼んではならない
func (s *Session) Start() {
	s.queue.Sync(s.start)
}

func (s *Session) start() {
	s.mu.RLock()
	state := s.state
	input := s.input
	output := s.output
	s.mu.RUnlock()

	switch state {
	case StateRunning:
		return
	case StateUnconfigured:
		s.logger.Warn().Msg("設定前のセッションは開始できません")
		return
	}

	output.setRunning(true)
	if err := input.device.StartStreaming(output.PixelLayout(), output.handleSample); err != nil {
		output.setRunning(false)
		s.logger.Error().Err(err).Msg("キャプチャの開始に失敗")
		return
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	s.logger.Info().Msg("キャプチャを開始しました")
}

// Stop はキャプチャを停止する。停止中であれば何もしない
// Observerの通知中に呼んではならない
func (s *Session) Stop() {
	s.queue.Sync(s.stop)
}

func (s *Session) stop() {
	s.mu.RLock()
	state := s.state
	input := s.input
	output := s.output
	s.mu.RUnlock()

	if state != StateRunning {
		return
	}

	output.setRunning(false)
	if err := input.device.StopStreaming(); err != nil {
		s.logger.Error().Err(err).Msg("キャプチャの停止に失敗")
	}

	s.mu.Lock()
	s.state = StateConfigured
	s.mu.Unlock()
	s.logger.Info().Msg("キャプチャを停止しました")
}

// Close はキャプチャを止め、デバイスとワーカーを閉じる
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var closeErr error
	s.queue.Sync(func() {
		s.stop()

		s.mu.Lock()
		input := s.input
		output := s.output
		s.mu.Unlock()

		if output != nil {
			output.detach()
		}
		if input != nil {
			if err := input.Close(); err != nil {
				closeErr = fmt.Errorf("入力のクローズに失敗: %w", err)
			}
		}
	})
	s.queue.Close()
	if s.mainQueue != nil {
		s.mainQueue.Close()
	}
	return closeErr
}

// SetObserver はフレームの通知先を差し替える。nilで解除する
//
// o は強参照で保持される。セッションに o の寿命を延ばさせたくない場合は
// SetWeakObserver を使う。
func (s *Session) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// SetWeakObserver は o を弱参照で通知先に設定する
// o が回収された後の通知は捨てられる
func SetWeakObserver[T any, P interface {
	*T
	Observer
}](s *Session, o P) {
	s.SetObserver(WeakObserver[T, P](o))
}

// State は現在の状態を返す
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsRunning はキャプチャ中かどうかを返す
func (s *Session) IsRunning() bool {
	return s.State() == StateRunning
}

// PreviewLayer は設定済みであればプレビューを返す。設定前はnil
func (s *Session) PreviewLayer() *PreviewLayer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preview
}

// Output は設定済みであればフレーム出力を返す
func (s *Session) Output() *FrameOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.output
}

// Preset は設定に使われたプリセットを返す
func (s *Session) Preset() camera.Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preset
}

// Device は入力のデバイス情報を返す
func (s *Session) Device() (camera.DeviceInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.input == nil {
		return camera.DeviceInfo{}, false
	}
	return s.input.device.Info(), true
}

// ActiveFormat は設定済みであればデバイスの現在のフォーマットを返す
func (s *Session) ActiveFormat() (camera.Format, bool) {
	s.mu.RLock()
	input := s.input
	s.mu.RUnlock()
	if input == nil {
		return camera.Format{}, false
	}
	return input.device.ActiveFormat(), true
}

// Formats は設定済みであればデバイスがサポートするフォーマットを返す
func (s *Session) Formats() []camera.Format {
	s.mu.RLock()
	input := s.input
	s.mu.RUnlock()
	if input == nil {
		return nil
	}
	return input.device.Formats()
}
