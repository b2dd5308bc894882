package camera

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoDeviceAvailable は利用可能なビデオデバイスがないことを表す
	ErrNoDeviceAvailable = errors.New("利用可能なビデオデバイスがありません")
	// ErrLockForConfigurationFailed はデバイスの設定ロックを取得できなかったことを表す
	ErrLockForConfigurationFailed = errors.New("デバイスの設定ロックに失敗")
	// ErrNotLocked は設定ロックなしで設定を変更しようとしたことを表す
	ErrNotLocked = errors.New("デバイスがロックされていません")
	// ErrDeviceClosed はオープンされていないデバイスを操作したことを表す
	ErrDeviceClosed = errors.New("デバイスがオープンされていません")
	// ErrUnsupportedFormat はデバイスがサポートしないフォーマットを指定したことを表す
	ErrUnsupportedFormat = errors.New("サポートされていないフォーマット")
)

// Sample はデバイスから届く1フレーム分のデータ
type Sample struct {
	// Timestamp はストリーム開始からの単調増加するキャプチャ時刻
	Timestamp time.Duration
	// Buffer はデコード済みの画像。デバイス側でフレームを落とした場合はnil
	Buffer *PixelBuffer
}

// SampleHandler はデバイスのストリーミングゴルーチンから順番に呼ばれる
type SampleHandler func(Sample)

// Device は物理カメラを表す
//
// 書き込み系の設定（SetActiveFormat, SetFrameDurations）は
// LockForConfiguration と UnlockForConfiguration の間でのみ許される。
type Device interface {
	// Info はデバイスの識別情報を返す
	Info() DeviceInfo

	// Formats はサポートされるフォーマットをデバイスの列挙順で返す
	Formats() []Format

	// ActiveFormat は現在のフォーマットを返す
	ActiveFormat() Format

	// FrameDurations は現在の最小・最大フレーム長を返す
	FrameDurations() (min, max FrameDuration)

	// LockForConfiguration は設定変更のための排他ロックを取得する
	LockForConfiguration() error

	// UnlockForConfiguration は設定ロックを解放する
	UnlockForConfiguration()

	// SetActiveFormat はフォーマットを切り替える
	SetActiveFormat(format Format) error

	// SetFrameDurations は最小・最大フレーム長を設定する
	SetFrameDurations(min, max FrameDuration) error

	// ApplyPreset は品質プリセットをデバイスに反映する
	ApplyPreset(preset Preset) error

	// Open はデバイスを開く
	Open() error

	// Close はデバイスを閉じる
	Close() error

	// StartStreaming はフレームの取得を開始し、handlerに順番に渡す
	StartStreaming(layout PixelLayout, handler SampleHandler) error

	// StopStreaming はフレームの取得を停止する。戻った後にhandlerは呼ばれない
	StopStreaming() error

	// IsStreaming はストリーミング中かどうかを返す
	IsStreaming() bool
}

// Provider はカメラデバイスの取得を担う
type Provider interface {
	// DefaultDevice はデフォルトのビデオデバイスを返す
	// デバイスがない場合は ErrNoDeviceAvailable を返す
	DefaultDevice(ctx context.Context) (Device, error)

	// Devices はシステム内のビデオデバイス一覧を返す
	Devices(ctx context.Context) ([]DeviceInfo, error)
}
