package camera

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Dimensions は画像の幅と高さ（ピクセル）を表す
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area は画素数を返す
func (d Dimensions) Area() int {
	return d.Width * d.Height
}

// IsZero は幅と高さが未設定かどうかを返す
func (d Dimensions) IsZero() bool {
	return d.Width == 0 && d.Height == 0
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// FrameRateRange はフォーマットがサポートするフレームレートの範囲（fps, 両端を含む）
type FrameRateRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains は指定したフレームレートが範囲内かどうかを返す
func (r FrameRateRange) Contains(fps float64) bool {
	return r.Min <= fps && fps <= r.Max
}

func (r FrameRateRange) String() string {
	return fmt.Sprintf("%g-%gfps", r.Min, r.Max)
}

// Subtype はフォーマットのサブタイプを表すFourCC（ビッグエンディアン）
type Subtype uint32

// サブタイプ
const (
	SubtypeFullRange420  Subtype = 0x34323066 // '420f' 4:2:0 バイプラナー フルレンジ
	SubtypeVideoRange420 Subtype = 0x34323076 // '420v' 4:2:0 バイプラナー ビデオレンジ
	SubtypeYUYV          Subtype = 0x79757673 // 'yuvs' 4:2:2 パックド
	SubtypeMJPEG         Subtype = 0x646d6231 // 'dmb1' Motion JPEG
	SubtypeBGRA          Subtype = 0x42475241 // 'BGRA'
)

// FourCC は4文字のコードからSubtypeを作る
func FourCC(code string) Subtype {
	var b [4]byte
	copy(b[:], code)
	return Subtype(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}

// ParseSubtype は "420f" のようなFourCC、または10進数の値からSubtypeを得る
func ParseSubtype(s string) (Subtype, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 {
		return FourCC(s), nil
	}
	var v uint32
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, fmt.Errorf("無効なサブタイプ: %q", s)
	}
	return Subtype(v), nil
}

func (s Subtype) String() string {
	b := []byte{byte(s >> 24), byte(s >> 16), byte(s >> 8), byte(s)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", uint32(s))
		}
	}
	return string(b)
}

// Format はデバイスがサポートするキャプチャフォーマット
type Format struct {
	Dimensions      Dimensions       `json:"dimensions"`
	FrameRateRanges []FrameRateRange `json:"frame_rate_ranges"`
	Subtype         Subtype          `json:"subtype"`
	Description     string           `json:"description,omitempty"`
}

// Equal は寸法・サブタイプ・フレームレート範囲が一致するかどうかを返す
func (f Format) Equal(other Format) bool {
	if f.Dimensions != other.Dimensions || f.Subtype != other.Subtype {
		return false
	}
	if len(f.FrameRateRanges) != len(other.FrameRateRanges) {
		return false
	}
	for i := range f.FrameRateRanges {
		if f.FrameRateRanges[i] != other.FrameRateRanges[i] {
			return false
		}
	}
	return true
}

func (f Format) String() string {
	ranges := make([]string, 0, len(f.FrameRateRanges))
	for _, r := range f.FrameRateRanges {
		ranges = append(ranges, r.String())
	}
	return fmt.Sprintf("'%s' %s [%s]", f.Subtype, f.Dimensions, strings.Join(ranges, ", "))
}

// FrameDuration は1フレームの長さを分数（Value/Timescale 秒）で表す
type FrameDuration struct {
	Value     int64 `json:"value"`
	Timescale int32 `json:"timescale"`
}

// FrameDurationForRate はフレームレートに対応する 1/fps の長さを返す
// fps が int32 に収まらない場合は無効な長さを返す
func FrameDurationForRate(fps int) FrameDuration {
	if fps <= 0 || fps > math.MaxInt32 {
		return FrameDuration{}
	}
	return FrameDuration{Value: 1, Timescale: int32(fps)}
}

// IsValid は分母が正かどうかを返す
func (d FrameDuration) IsValid() bool {
	return d.Timescale > 0
}

// Seconds は秒数を返す
func (d FrameDuration) Seconds() float64 {
	if !d.IsValid() {
		return 0
	}
	return float64(d.Value) / float64(d.Timescale)
}

// Duration はtime.Durationに変換する
func (d FrameDuration) Duration() time.Duration {
	if !d.IsValid() {
		return 0
	}
	return time.Duration(d.Value) * time.Second / time.Duration(d.Timescale)
}

func (d FrameDuration) String() string {
	if !d.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%d/%d", d.Value, d.Timescale)
}

// Preset はキャプチャ品質のプリセット
type Preset string

const (
	PresetHigh   Preset = "high"
	PresetMedium Preset = "medium"
	PresetLow    Preset = "low"
)

// ParsePreset は文字列からPresetを得る
func ParsePreset(s string) (Preset, error) {
	switch p := Preset(strings.ToLower(strings.TrimSpace(s))); p {
	case PresetHigh, PresetMedium, PresetLow:
		return p, nil
	default:
		return "", fmt.Errorf("無効なプリセット: %q", s)
	}
}

// DeviceInfo はカメラデバイスの識別情報
type DeviceInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Driver string `json:"driver"`
}
