package camera

import (
	"fmt"
)

// FormatChoice はフォーマット探索の結果
type FormatChoice struct {
	Index         int           // Formats()内の位置
	Format        Format        // 選択されたフォーマット
	FrameDuration FrameDuration // 最小・最大フレーム長に設定する値 (1/fps)
}

// MatchingFormats は条件を満たすフォーマットをデバイスの列挙順で返す
//
// 条件は次のすべて:
//   - 寸法が current と等しい
//   - 先頭のフレームレート範囲が desiredFrameRate を含む
//   - サブタイプが required と等しい
func MatchingFormats(formats []Format, current Dimensions, desiredFrameRate int, required Subtype) []FormatChoice {
	if desiredFrameRate <= 0 {
		return nil
	}

	fps := float64(desiredFrameRate)
	duration := FrameDurationForRate(desiredFrameRate)

	var choices []FormatChoice
	for i, f := range formats {
		if len(f.FrameRateRanges) == 0 {
			continue
		}
		if !f.FrameRateRanges[0].Contains(fps) {
			continue
		}
		if f.Dimensions != current || f.Subtype != required {
			continue
		}
		choices = append(choices, FormatChoice{Index: i, Format: f, FrameDuration: duration})
	}
	return choices
}

// SelectFormat は条件を満たす最初のフォーマットを返す
// 最適なものを探すのではなく、列挙順で最初に一致したものを採用する
func SelectFormat(formats []Format, current Dimensions, desiredFrameRate int, required Subtype) (FormatChoice, bool) {
	choices := MatchingFormats(formats, current, desiredFrameRate, required)
	if len(choices) == 0 {
		return FormatChoice{}, false
	}
	return choices[0], true
}

// ApplyFormat はデバイスをロックしてフォーマットとフレーム長を設定する
//
// ロックに失敗した場合は ErrLockForConfigurationFailed をラップして返し、
// デバイスの状態は変更しない。フレーム長の設定に失敗した場合は
// 元のアクティブフォーマットに戻す。
func ApplyFormat(dev Device, choice FormatChoice) error {
	if err := dev.LockForConfiguration(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockForConfigurationFailed, err)
	}
	defer dev.UnlockForConfiguration()

	previous := dev.ActiveFormat()
	if err := dev.SetActiveFormat(choice.Format); err != nil {
		return fmt.Errorf("フォーマットの設定に失敗: %w", err)
	}
	if err := dev.SetFrameDurations(choice.FrameDuration, choice.FrameDuration); err != nil {
		if rerr := dev.SetActiveFormat(previous); rerr != nil {
			return fmt.Errorf("フレーム長の設定に失敗: %w (フォーマットの復元にも失敗: %v)", err, rerr)
		}
		return fmt.Errorf("フレーム長の設定に失敗: %w", err)
	}
	return nil
}

// presetTargetMedium はmediumプリセットの目標画素数
var presetTargetMedium = Dimensions{Width: 640, Height: 480}

// FormatForPreset はプリセットに対応するフォーマットを返す
//
// high は最大画素数、low は最小画素数、medium は 640x480 に最も近い画素数。
// 同じ画素数のものが複数ある場合は列挙順で先のものを選ぶ。
func FormatForPreset(formats []Format, preset Preset) (Format, bool) {
	if len(formats) == 0 {
		return Format{}, false
	}
	preset, err := ParsePreset(string(preset))
	if err != nil {
		return Format{}, false
	}

	best := -1
	for i, f := range formats {
		if best < 0 {
			best = i
			continue
		}
		cur := formats[best].Dimensions.Area()
		area := f.Dimensions.Area()
		switch preset {
		case PresetHigh:
			if area > cur {
				best = i
			}
		case PresetLow:
			if area < cur {
				best = i
			}
		case PresetMedium:
			target := presetTargetMedium.Area()
			if absInt(area-target) < absInt(cur-target) {
				best = i
			}
		}
	}
	return formats[best], true
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
