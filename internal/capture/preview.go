package capture

import (
	"image"
	"image/color"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"videocap/internal/camera"
)

// PreviewLayer はセッションの最新フレームを描画するプレビュー
// 設定に成功したセッションだけが持つ
type PreviewLayer struct {
	session    *Session
	connection *Connection

	mu        sync.RWMutex
	gravity   Gravity
	latest    *camera.PixelBuffer
	timestamp time.Duration
}

func newPreviewLayer(session *Session) *PreviewLayer {
	conn := newConnection()
	conn.SetOrientation(OrientationPortrait)
	return &PreviewLayer{
		session:    session,
		connection: conn,
		gravity:    GravityResizeAspect,
	}
}

// Session はプレビューが紐づくセッションを返す
func (p *PreviewLayer) Session() *Session {
	return p.session
}

// Connection はプレビューの接続を返す
func (p *PreviewLayer) Connection() *Connection {
	return p.connection
}

// Gravity は表示領域への収め方を返す
func (p *PreviewLayer) Gravity() Gravity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gravity
}

// SetGravity は表示領域への収め方を設定する
func (p *PreviewLayer) SetGravity(g Gravity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gravity = g
}

// Latest は最後に届いたフレームとそのタイムスタンプを返す
func (p *PreviewLayer) Latest() (*camera.PixelBuffer, time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.timestamp
}

func (p *PreviewLayer) update(buf *camera.PixelBuffer, timestamp time.Duration) {
	if !p.connection.Enabled() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = buf
	p.timestamp = timestamp
}

// FitRect は src の大きさの画像を dst に描画する矩形を返す
func (p *PreviewLayer) FitRect(dst image.Rectangle, src camera.Dimensions) image.Rectangle {
	return fitRect(p.Gravity(), dst, src)
}

// Render は最新フレームを dst に描画する。フレームがまだなければfalse
// 画像のない部分は黒で塗る
func (p *PreviewLayer) Render(dst draw.Image) bool {
	buf, _ := p.Latest()
	if buf == nil {
		return false
	}

	bounds := dst.Bounds()
	rect := p.FitRect(bounds, buf.Dimensions())
	if !rect.Eq(bounds) {
		draw.Draw(dst, bounds, image.NewUniform(color.Black), image.Point{}, draw.Src)
	}
	draw.ApproxBiLinear.Scale(dst, rect, buf, buf.Bounds(), draw.Src, nil)
	return true
}

func fitRect(gravity Gravity, dst image.Rectangle, src camera.Dimensions) image.Rectangle {
	if src.IsZero() || dst.Empty() || gravity == GravityResize {
		return dst
	}

	dw, dh := dst.Dx(), dst.Dy()
	// 幅基準で合わせたときの高さ
	hForW := dw * src.Height / src.Width

	var w, h int
	switch {
	case gravity == GravityResizeAspect && hForW <= dh,
		gravity == GravityResizeAspectFill && hForW >= dh:
		w, h = dw, hForW
	default:
		w, h = dh*src.Width/src.Height, dh
	}

	x := dst.Min.X + (dw-w)/2
	y := dst.Min.Y + (dh-h)/2
	return image.Rect(x, y, x+w, y+h)
}
