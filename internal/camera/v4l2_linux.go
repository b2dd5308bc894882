//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blackjack/webcam"

	"videocap/internal/logger"
)

// V4L2フレーム待ちのタイムアウト（秒）
const v4l2FrameTimeout = 5

// v4l2Subtypes はV4L2のピクセルフォーマットとサブタイプの対応
// V4L2のNV12はほとんどのドライバーでリミテッドレンジなので '420v' とする
var v4l2Subtypes = map[webcam.PixelFormat]Subtype{
	v4l2FourCC("NV12"): SubtypeVideoRange420,
	v4l2FourCC("YUYV"): SubtypeYUYV,
	v4l2FourCC("MJPG"): SubtypeMJPEG,
	v4l2FourCC("AR24"): SubtypeBGRA,
	v4l2FourCC("BGR4"): SubtypeBGRA,
}

// v4l2FourCC はV4L2のFourCC（リトルエンディアン）を作る
func v4l2FourCC(code string) webcam.PixelFormat {
	return webcam.PixelFormat(uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24)
}

// v4l2Provider はV4L2デバイスを提供する
type v4l2Provider struct {
	discovery Discovery
	device    string
}

// NewV4L2Provider はV4L2バックエンドのProviderを作成する
func NewV4L2Provider(config ProviderConfig) (Provider, error) {
	return &v4l2Provider{
		discovery: NewLinuxDiscovery(),
		device:    config.Device,
	}, nil
}

// DefaultDevice は設定されたデバイス、なければ最も番号の小さいデバイスを返す
func (p *v4l2Provider) DefaultDevice(ctx context.Context) (Device, error) {
	path := p.device
	if path == "" {
		devices, err := p.discovery.ScanDevices(ctx)
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, ErrNoDeviceAvailable
		}
		path = devices[0]
	}

	info, err := p.discovery.GetDeviceInfo(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDeviceAvailable, err)
	}
	return newV4L2Device(*info), nil
}

// Devices はシステム内のV4L2デバイス一覧を返す
func (p *v4l2Provider) Devices(ctx context.Context) ([]DeviceInfo, error) {
	devices, err := p.discovery.ScanDevices(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]DeviceInfo, 0, len(devices))
	for _, device := range devices {
		info, err := p.discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// v4l2Format はFormatとV4L2のピクセルフォーマットの組
type v4l2Format struct {
	format   Format
	pixelFmt webcam.PixelFormat
}

// v4l2Device はgithub.com/blackjack/webcamによるDevice実装
type v4l2Device struct {
	info DeviceInfo

	// configLock は LockForConfiguration で取得する排他ロック
	configLock sync.Mutex

	mu      sync.Mutex
	cam     *webcam.Webcam
	formats []v4l2Format
	active  int
	minDur  FrameDuration
	maxDur  FrameDuration
	locked  bool

	streaming bool
	stopCh    chan struct{}
	wg        sync.WaitGroup

	// epoch はタイムスタンプの基準時刻。ストリーミングの再開ではリセットしない
	epoch time.Time
}

func newV4L2Device(info DeviceInfo) *v4l2Device {
	return &v4l2Device{info: info, active: -1, epoch: time.Now()}
}

// Info はDeviceの実装
func (d *v4l2Device) Info() DeviceInfo {
	return d.info
}

// Formats はDeviceの実装
func (d *v4l2Device) Formats() []Format {
	d.mu.Lock()
	defer d.mu.Unlock()

	formats := make([]Format, 0, len(d.formats))
	for _, f := range d.formats {
		formats = append(formats, f.format)
	}
	return formats
}

// ActiveFormat はDeviceの実装
func (d *v4l2Device) ActiveFormat() Format {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active < 0 {
		return Format{}
	}
	return d.formats[d.active].format
}

// FrameDurations はDeviceの実装
func (d *v4l2Device) FrameDurations() (FrameDuration, FrameDuration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.minDur, d.maxDur
}

// LockForConfiguration はDeviceの実装
// 他の設定中、またはストリーミング中は失敗する
func (d *v4l2Device) LockForConfiguration() error {
	if !d.configLock.TryLock() {
		return fmt.Errorf("%s は他で設定中です", d.info.Path)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cam == nil {
		d.configLock.Unlock()
		return ErrDeviceClosed
	}
	if d.streaming {
		d.configLock.Unlock()
		return fmt.Errorf("%s はストリーミング中です", d.info.Path)
	}
	d.locked = true
	return nil
}

// UnlockForConfiguration はDeviceの実装
func (d *v4l2Device) UnlockForConfiguration() {
	d.mu.Lock()
	wasLocked := d.locked
	d.locked = false
	d.mu.Unlock()

	if wasLocked {
		d.configLock.Unlock()
	}
}

// SetActiveFormat はDeviceの実装
func (d *v4l2Device) SetActiveFormat(format Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.locked {
		return ErrNotLocked
	}
	return d.setFormatLocked(format)
}

// SetFrameDurations はDeviceの実装
// V4L2は単一のフレーム間隔しか持たないため minDur を適用する
func (d *v4l2Device) SetFrameDurations(minDur, maxDur FrameDuration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.locked {
		return ErrNotLocked
	}
	if !minDur.IsValid() || !maxDur.IsValid() {
		return fmt.Errorf("無効なフレーム長: %s, %s", minDur, maxDur)
	}

	fps := float32(float64(minDur.Timescale) / float64(minDur.Value))
	if err := d.cam.SetFramerate(fps); err != nil {
		return fmt.Errorf("フレームレートの設定に失敗: %w", err)
	}
	d.minDur = minDur
	d.maxDur = maxDur
	return nil
}

// ApplyPreset はDeviceの実装
func (d *v4l2Device) ApplyPreset(preset Preset) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cam == nil {
		return ErrDeviceClosed
	}
	if d.streaming {
		return fmt.Errorf("%s はストリーミング中です", d.info.Path)
	}

	formats := make([]Format, 0, len(d.formats))
	for _, f := range d.formats {
		formats = append(formats, f.format)
	}
	format, ok := FormatForPreset(formats, preset)
	if !ok {
		return fmt.Errorf("プリセット %s に対応するフォーマットがありません", preset)
	}
	return d.setFormatLocked(format)
}

// setFormatLocked はフォーマットをデバイスに設定する（d.mu取得済み前提）
func (d *v4l2Device) setFormatLocked(format Format) error {
	for i, f := range d.formats {
		if !f.format.Equal(format) {
			continue
		}

		w, h := uint32(format.Dimensions.Width), uint32(format.Dimensions.Height)
		pf, gotW, gotH, err := d.cam.SetImageFormat(f.pixelFmt, w, h)
		if err != nil {
			return fmt.Errorf("フォーマットの設定に失敗: %w", err)
		}
		if pf != f.pixelFmt || gotW != w || gotH != h {
			return fmt.Errorf("%w: %s (デバイスは %dx%d を返しました)", ErrUnsupportedFormat, format, gotW, gotH)
		}
		d.active = i
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// Open はDeviceの実装
func (d *v4l2Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cam != nil {
		return nil
	}

	cam, err := webcam.Open(d.info.Path)
	if err != nil {
		return fmt.Errorf("%s のオープンに失敗: %w", d.info.Path, err)
	}

	d.cam = cam
	d.formats = enumerateFormats(cam)
	if len(d.formats) == 0 {
		_ = cam.Close()
		d.cam = nil
		return fmt.Errorf("%s に利用可能なフォーマットがありません", d.info.Path)
	}

	// 先頭のフォーマットを初期状態とする
	if err := d.setFormatLocked(d.formats[0].format); err != nil {
		logger.WithComponent("camera").Warn().Err(err).Str("device", d.info.Path).Msg("初期フォーマットの設定に失敗")
	}
	return nil
}

// Close はDeviceの実装
func (d *v4l2Device) Close() error {
	if err := d.StopStreaming(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cam == nil {
		return nil
	}
	err := d.cam.Close()
	d.cam = nil
	d.active = -1
	return err
}

// StartStreaming はDeviceの実装
func (d *v4l2Device) StartStreaming(layout PixelLayout, handler SampleHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cam == nil {
		return ErrDeviceClosed
	}
	if d.streaming {
		return nil
	}
	if layout != PixelLayoutBGRA32 {
		return fmt.Errorf("未対応のピクセル配置: %s", layout)
	}
	if d.active < 0 {
		return fmt.Errorf("アクティブなフォーマットがありません")
	}

	if err := d.cam.StartStreaming(); err != nil {
		return fmt.Errorf("ストリーミングの開始に失敗: %w", err)
	}

	d.streaming = true
	d.stopCh = make(chan struct{})
	d.wg.Add(1)
	go d.readFrames(d.cam, d.formats[d.active].format, d.stopCh, handler)
	return nil
}

// StopStreaming はDeviceの実装
func (d *v4l2Device) StopStreaming() error {
	d.mu.Lock()
	if !d.streaming {
		d.mu.Unlock()
		return nil
	}
	d.streaming = false
	close(d.stopCh)
	cam := d.cam
	d.mu.Unlock()

	// 読み取りゴルーチンの終了を待ってからストリーミングを止める
	d.wg.Wait()
	if err := cam.StopStreaming(); err != nil {
		return fmt.Errorf("ストリーミングの停止に失敗: %w", err)
	}
	return nil
}

// IsStreaming はDeviceの実装
func (d *v4l2Device) IsStreaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// readFrames はフレームを読み取り、BGRAに変換してhandlerに渡す
func (d *v4l2Device) readFrames(cam *webcam.Webcam, format Format, stop <-chan struct{}, handler SampleHandler) {
	defer d.wg.Done()

	log := logger.WithComponent("camera")

	for {
		select {
		case <-stop:
			return
		default:
		}

		err := cam.WaitForFrame(v4l2FrameTimeout)
		if err != nil {
			var timeout *webcam.Timeout
			if errors.As(err, &timeout) {
				continue
			}
			log.Error().Err(err).Str("device", d.info.Path).Msg("フレーム待ちに失敗")
			return
		}

		frame, err := cam.ReadFrame()
		timestamp := time.Since(d.epoch)
		if err != nil {
			log.Error().Err(err).Str("device", d.info.Path).Msg("フレームの読み取りに失敗")
			return
		}

		// 空のフレームはドライバーが落としたものとして扱う
		if len(frame) == 0 {
			handler(Sample{Timestamp: timestamp})
			continue
		}

		buf, err := ConvertToBGRA(format.Subtype, format.Dimensions, frame)
		if err != nil {
			log.Debug().Err(err).Msg("フレームの変換に失敗")
			handler(Sample{Timestamp: timestamp})
			continue
		}
		handler(Sample{Timestamp: timestamp, Buffer: buf})
	}
}

// enumerateFormats はピクセルフォーマット・フレームサイズ・フレーム間隔の組み合わせを列挙する
// 対応するサブタイプがないピクセルフォーマットは除外する
func enumerateFormats(cam *webcam.Webcam) []v4l2Format {
	supported := cam.GetSupportedFormats()

	pixelFmts := make([]webcam.PixelFormat, 0, len(supported))
	for pf := range supported {
		if _, ok := v4l2Subtypes[pf]; ok {
			pixelFmts = append(pixelFmts, pf)
		}
	}
	sort.Slice(pixelFmts, func(i, j int) bool { return pixelFmts[i] < pixelFmts[j] })

	var formats []v4l2Format
	for _, pf := range pixelFmts {
		for _, size := range cam.GetSupportedFrameSizes(pf) {
			dims := Dimensions{Width: int(size.MaxWidth), Height: int(size.MaxHeight)}
			if dims.Width == 0 || dims.Height == 0 {
				continue
			}

			var ranges []FrameRateRange
			for _, rate := range cam.GetSupportedFramerates(pf, size.MaxWidth, size.MaxHeight) {
				if r, ok := frameRateRange(rate); ok {
					ranges = append(ranges, r)
				}
			}
			// 高いフレームレートの範囲を先頭にする
			sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].Max > ranges[j].Max })

			formats = append(formats, v4l2Format{
				format: Format{
					Dimensions:      dims,
					FrameRateRanges: ranges,
					Subtype:         v4l2Subtypes[pf],
					Description:     supported[pf],
				},
				pixelFmt: pf,
			})
		}
	}
	return formats
}

// frameRateRange はV4L2のフレーム間隔（秒 = 分子/分母）をfpsの範囲に変換する
func frameRateRange(rate webcam.FrameRate) (FrameRateRange, bool) {
	if rate.MinNumerator == 0 || rate.MaxNumerator == 0 {
		return FrameRateRange{}, false
	}
	return FrameRateRange{
		Min: float64(rate.MinDenominator) / float64(rate.MaxNumerator),
		Max: float64(rate.MaxDenominator) / float64(rate.MinNumerator),
	}, true
}
