package camera

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockDevice はテスト用のDevice実装
//
// ストリーミング中は Emit / EmitDrop で任意のフレームを流し込める。
// WithGenerator を指定した場合はアクティブなフレームレートでテストパターンを生成する。
type MockDevice struct {
	mu sync.Mutex

	info    DeviceInfo
	formats []Format
	active  Format
	minDur  FrameDuration
	maxDur  FrameDuration
	preset  Preset

	// プリセットに対応するフォーマット（テストで登録したもののみ反映）
	presetFormats map[Preset]Format

	opened    bool
	locked    bool
	streaming bool
	handler   SampleHandler

	// テスト制御用
	shouldFailOpen           bool
	shouldFailFrameDurations bool
	lockFailuresLeft         int
	startCount               int
	stopCount                int
	lockAttempts             int

	// epoch はタイムスタンプの基準時刻。ストリーミングの再開ではリセットしない
	epoch time.Time

	// テストパターン生成用
	generate bool
	genStop  chan struct{}
	genWG    sync.WaitGroup
}

// NewMockDevice は新しいMockDeviceを作成する
// アクティブフォーマットは active で初期化される
func NewMockDevice(name string, formats []Format, active Format) *MockDevice {
	return &MockDevice{
		info: DeviceInfo{
			ID:     "mock:" + name,
			Name:   name,
			Path:   "mock://" + name,
			Driver: "mock",
		},
		formats:       formats,
		active:        active,
		presetFormats: make(map[Preset]Format),
		epoch:         time.Now(),
	}
}

// WithGenerator はストリーミング中にテストパターンを生成するように設定する
func (m *MockDevice) WithGenerator() *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generate = true
	return m
}

// Info はDeviceの実装
func (m *MockDevice) Info() DeviceInfo {
	return m.info
}

// Formats はDeviceの実装
func (m *MockDevice) Formats() []Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Format, len(m.formats))
	copy(result, m.formats)
	return result
}

// ActiveFormat はDeviceの実装
func (m *MockDevice) ActiveFormat() Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// FrameDurations はDeviceの実装
func (m *MockDevice) FrameDurations() (FrameDuration, FrameDuration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minDur, m.maxDur
}

// LockForConfiguration はDeviceの実装
func (m *MockDevice) LockForConfiguration() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lockAttempts++
	if m.lockFailuresLeft > 0 {
		m.lockFailuresLeft--
		return fmt.Errorf("モック: ロック失敗")
	}
	if m.locked {
		return fmt.Errorf("モック: 既にロックされています")
	}
	m.locked = true
	return nil
}

// UnlockForConfiguration はDeviceの実装
func (m *MockDevice) UnlockForConfiguration() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = false
}

// SetActiveFormat はDeviceの実装
func (m *MockDevice) SetActiveFormat(format Format) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.locked {
		return ErrNotLocked
	}
	for _, f := range m.formats {
		if f.Equal(format) {
			m.active = format
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// SetFrameDurations はDeviceの実装
func (m *MockDevice) SetFrameDurations(minDur, maxDur FrameDuration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.locked {
		return ErrNotLocked
	}
	if m.shouldFailFrameDurations {
		return fmt.Errorf("モック: フレーム長の設定に失敗")
	}
	m.minDur = minDur
	m.maxDur = maxDur
	return nil
}

// ApplyPreset はDeviceの実装
// SetPresetFormat で登録されたプリセットのみアクティブフォーマットを切り替える
func (m *MockDevice) ApplyPreset(preset Preset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.preset = preset
	if f, ok := m.presetFormats[preset]; ok {
		m.active = f
	}
	return nil
}

// Open はDeviceの実装
func (m *MockDevice) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFailOpen {
		return fmt.Errorf("モック: デバイスのオープンに失敗")
	}
	m.opened = true
	return nil
}

// Close はDeviceの実装
func (m *MockDevice) Close() error {
	if err := m.StopStreaming(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return nil
}

// StartStreaming はDeviceの実装
func (m *MockDevice) StartStreaming(_ PixelLayout, handler SampleHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.opened {
		return ErrDeviceClosed
	}
	if m.streaming {
		return nil
	}

	m.streaming = true
	m.handler = handler
	m.startCount++

	if m.generate {
		m.genStop = make(chan struct{})
		m.genWG.Add(1)
		go m.runGenerator(m.genStop, m.active.Dimensions, m.generatorInterval())
	}
	return nil
}

// StopStreaming はDeviceの実装
func (m *MockDevice) StopStreaming() error {
	m.mu.Lock()
	if !m.streaming {
		m.mu.Unlock()
		return nil
	}
	m.streaming = false
	m.handler = nil
	m.stopCount++
	genStop := m.genStop
	m.genStop = nil
	m.mu.Unlock()

	if genStop != nil {
		close(genStop)
		m.genWG.Wait()
	}
	return nil
}

// IsStreaming はDeviceの実装
func (m *MockDevice) IsStreaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming
}

// Emit はストリーミング中であればフレームをhandlerに渡す
// 渡した場合はtrueを返す
func (m *MockDevice) Emit(timestamp time.Duration, buffer *PixelBuffer) bool {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(Sample{Timestamp: timestamp, Buffer: buffer})
	return true
}

// EmitDrop はデバイス側で落としたフレームを通知する
func (m *MockDevice) EmitDrop(timestamp time.Duration) bool {
	return m.Emit(timestamp, nil)
}

// SetShouldFailOpen はテスト用にOpen失敗を設定する
func (m *MockDevice) SetShouldFailOpen(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOpen = shouldFail
}

// SetShouldFailFrameDurations はテスト用にフレーム長の設定失敗を設定する
func (m *MockDevice) SetShouldFailFrameDurations(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailFrameDurations = shouldFail
}

// SetLockFailures はテスト用に次のn回のロックを失敗させる
func (m *MockDevice) SetLockFailures(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockFailuresLeft = n
}

// SetPresetFormat はテスト用にプリセットとフォーマットの対応を登録する
func (m *MockDevice) SetPresetFormat(preset Preset, format Format) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presetFormats[preset] = format
}

// Preset は最後に適用されたプリセットを返す
func (m *MockDevice) Preset() Preset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preset
}

// IsOpen はオープン済みかどうかを返す
func (m *MockDevice) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// StartCount はストリーミングを実際に開始した回数を返す
func (m *MockDevice) StartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}

// StopCount はストリーミングを実際に停止した回数を返す
func (m *MockDevice) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// LockAttempts はロックを試みた回数を返す
func (m *MockDevice) LockAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockAttempts
}

// generatorInterval はアクティブなフレーム長を返す（ロック済み前提）
func (m *MockDevice) generatorInterval() time.Duration {
	if d := m.minDur.Duration(); d > 0 {
		return d
	}
	if len(m.active.FrameRateRanges) > 0 && m.active.FrameRateRanges[0].Max > 0 {
		return time.Duration(float64(time.Second) / m.active.FrameRateRanges[0].Max)
	}
	return time.Second / 30
}

// runGenerator はテストパターンを一定間隔で生成する
func (m *MockDevice) runGenerator(stop <-chan struct{}, dims Dimensions, interval time.Duration) {
	defer m.genWG.Done()

	if dims.IsZero() {
		dims = Dimensions{Width: 640, Height: 480}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			buf := testPattern(dims, n)
			n++

			m.mu.Lock()
			handler := m.handler
			m.mu.Unlock()
			if handler == nil {
				return
			}
			handler(Sample{Timestamp: time.Since(m.epoch), Buffer: buf})
		}
	}
}

// testPattern はフレーム番号で横に流れるグラデーションを作る
func testPattern(dims Dimensions, n int) *PixelBuffer {
	buf := NewPixelBuffer(dims.Width, dims.Height)
	for y := 0; y < dims.Height; y++ {
		for x := 0; x < dims.Width; x++ {
			v := uint8((x + n*4) * 255 / dims.Width)
			buf.SetBGRA(x, y, v, uint8(y*255/dims.Height), 255-v, 0xff)
		}
	}
	return buf
}

// MockProvider はテスト用のProvider実装
type MockProvider struct {
	mu      sync.Mutex
	devices []Device
}

// NewMockProvider は新しいMockProviderを作成する
// 先頭のデバイスがデフォルトデバイスになる
func NewMockProvider(devices ...Device) *MockProvider {
	return &MockProvider{devices: devices}
}

// DefaultDevice はProviderの実装
func (p *MockProvider) DefaultDevice(_ context.Context) (Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.devices) == 0 {
		return nil, ErrNoDeviceAvailable
	}
	return p.devices[0], nil
}

// Devices はProviderの実装
func (p *MockProvider) Devices(_ context.Context) ([]DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]DeviceInfo, 0, len(p.devices))
	for _, d := range p.devices {
		infos = append(infos, d.Info())
	}
	return infos, nil
}

// AddDevice はテスト用にデバイスを追加する
func (p *MockProvider) AddDevice(dev Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = append(p.devices, dev)
}

// RemoveDevice はテスト用にデバイスを削除する
func (p *MockProvider) RemoveDevice(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, d := range p.devices {
		if d.Info().ID == id {
			p.devices = append(p.devices[:i], p.devices[i+1:]...)
			return
		}
	}
}

// SyntheticFormats は合成デバイスが公開するフォーマット
func SyntheticFormats() []Format {
	return []Format{
		{Dimensions: Dimensions{Width: 640, Height: 480}, FrameRateRanges: []FrameRateRange{{Min: 1, Max: 30}}, Subtype: SubtypeFullRange420},
		{Dimensions: Dimensions{Width: 640, Height: 480}, FrameRateRanges: []FrameRateRange{{Min: 1, Max: 30}}, Subtype: SubtypeVideoRange420},
		{Dimensions: Dimensions{Width: 1280, Height: 720}, FrameRateRanges: []FrameRateRange{{Min: 1, Max: 30}}, Subtype: SubtypeFullRange420},
		{Dimensions: Dimensions{Width: 320, Height: 240}, FrameRateRanges: []FrameRateRange{{Min: 1, Max: 60}}, Subtype: SubtypeFullRange420},
	}
}

// NewSyntheticProvider はテストパターンを生成する合成カメラのProviderを作成する
func NewSyntheticProvider(_ ProviderConfig) (Provider, error) {
	formats := SyntheticFormats()
	dev := NewMockDevice("synthetic", formats, formats[0]).WithGenerator()
	dev.SetPresetFormat(PresetHigh, formats[2])
	dev.SetPresetFormat(PresetMedium, formats[0])
	dev.SetPresetFormat(PresetLow, formats[3])
	return NewMockProvider(dev), nil
}
