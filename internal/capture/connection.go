package capture

import (
	"sync"
)

// Orientation は映像の向き
type Orientation int

const (
	OrientationPortrait Orientation = iota + 1
	OrientationPortraitUpsideDown
	OrientationLandscapeRight
	OrientationLandscapeLeft
)

func (o Orientation) String() string {
	switch o {
	case OrientationPortrait:
		return "portrait"
	case OrientationPortraitUpsideDown:
		return "portrait_upside_down"
	case OrientationLandscapeRight:
		return "landscape_right"
	case OrientationLandscapeLeft:
		return "landscape_left"
	default:
		return "unknown"
	}
}

// Gravity はプレビューの表示領域への収め方
type Gravity int

const (
	// GravityResizeAspect は縦横比を保って領域内に収める
	GravityResizeAspect Gravity = iota
	// GravityResizeAspectFill は縦横比を保って領域を埋める（はみ出しは切り取る）
	GravityResizeAspectFill
	// GravityResize は縦横比を無視して領域に合わせる
	GravityResize
)

func (g Gravity) String() string {
	switch g {
	case GravityResizeAspect:
		return "resize_aspect"
	case GravityResizeAspectFill:
		return "resize_aspect_fill"
	case GravityResize:
		return "resize"
	default:
		return "unknown"
	}
}

// defaultOrientation はセッションへの接続時に設定される向き
const defaultOrientation = OrientationLandscapeRight

// Connection は入力と出力（またはプレビュー）の接続
// 出力をセッションに追加すると新しいConnectionが作られ、向きは既定値に戻る
type Connection struct {
	mu          sync.RWMutex
	orientation Orientation
	enabled     bool
}

func newConnection() *Connection {
	return &Connection{
		orientation: defaultOrientation,
		enabled:     true,
	}
}

// Orientation は映像の向きを返す
func (c *Connection) Orientation() Orientation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orientation
}

// SetOrientation は映像の向きを設定する
func (c *Connection) SetOrientation(o Orientation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orientation = o
}

// Enabled は接続が有効かどうかを返す
func (c *Connection) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled は接続の有効・無効を切り替える
// 無効な接続のフレームは出力に届かない
func (c *Connection) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}
