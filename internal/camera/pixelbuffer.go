package camera

import (
	"fmt"
	"image"
	"image/color"
)

// PixelLayout は画像バッファのバイト配置
type PixelLayout int

const (
	PixelLayoutUnknown PixelLayout = iota
	PixelLayoutBGRA32              // 1画素4バイト B,G,R,A
)

func (l PixelLayout) String() string {
	switch l {
	case PixelLayoutBGRA32:
		return "BGRA32"
	default:
		return "unknown"
	}
}

// BytesPerPixel は1画素あたりのバイト数を返す
func (l PixelLayout) BytesPerPixel() int {
	switch l {
	case PixelLayoutBGRA32:
		return 4
	default:
		return 0
	}
}

// PixelBuffer はデコード済みの1フレーム分の画像
//
// image.Imageを実装しているため、描画処理にそのまま渡せる。
type PixelBuffer struct {
	Width  int
	Height int
	Stride int
	Layout PixelLayout
	Data   []byte
}

// NewPixelBuffer は指定サイズの空のBGRAバッファを作成する
func NewPixelBuffer(width, height int) *PixelBuffer {
	stride := width * PixelLayoutBGRA32.BytesPerPixel()
	return &PixelBuffer{
		Width:  width,
		Height: height,
		Stride: stride,
		Layout: PixelLayoutBGRA32,
		Data:   make([]byte, stride*height),
	}
}

// Validate はバッファの寸法とデータ長の整合性を検証する
func (b *PixelBuffer) Validate() error {
	bpp := b.Layout.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("未対応のピクセル配置: %s", b.Layout)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("無効な寸法: %dx%d", b.Width, b.Height)
	}
	if b.Stride < b.Width*bpp {
		return fmt.Errorf("ストライドが小さすぎます: %d", b.Stride)
	}
	if len(b.Data) < b.Stride*(b.Height-1)+b.Width*bpp {
		return fmt.Errorf("データ長が不足しています: %d", len(b.Data))
	}
	return nil
}

// Dimensions はバッファの寸法を返す
func (b *PixelBuffer) Dimensions() Dimensions {
	return Dimensions{Width: b.Width, Height: b.Height}
}

// ColorModel はimage.Imageの実装
func (b *PixelBuffer) ColorModel() color.Model {
	return color.RGBAModel
}

// Bounds はimage.Imageの実装
func (b *PixelBuffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.Width, b.Height)
}

// At はimage.Imageの実装
func (b *PixelBuffer) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return color.RGBA{}
	}
	i := y*b.Stride + x*4
	return color.RGBA{R: b.Data[i+2], G: b.Data[i+1], B: b.Data[i], A: b.Data[i+3]}
}

// SetBGRA は1画素を書き込む
func (b *PixelBuffer) SetBGRA(x, y int, blue, green, red, alpha uint8) {
	i := y*b.Stride + x*4
	b.Data[i] = blue
	b.Data[i+1] = green
	b.Data[i+2] = red
	b.Data[i+3] = alpha
}
