package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// ConvertToBGRA はデバイスのネイティブフォーマットの1フレームをBGRA32に変換する
func ConvertToBGRA(subtype Subtype, dims Dimensions, data []byte) (*PixelBuffer, error) {
	if dims.Width <= 0 || dims.Height <= 0 {
		return nil, fmt.Errorf("無効な寸法: %s", dims)
	}

	switch subtype {
	case SubtypeFullRange420:
		return convertNV12(dims, data, false)
	case SubtypeVideoRange420:
		return convertNV12(dims, data, true)
	case SubtypeYUYV:
		return convertYUYV(dims, data)
	case SubtypeBGRA:
		return copyBGRA(dims, data)
	case SubtypeMJPEG:
		return decodeMJPEG(data)
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedFormat, subtype)
	}
}

// convertNV12 はY平面とCbCrインターリーブ平面からなる4:2:0を変換する
func convertNV12(dims Dimensions, data []byte, videoRange bool) (*PixelBuffer, error) {
	w, h := dims.Width, dims.Height
	chromaRows := (h + 1) / 2
	chromaStride := ((w + 1) / 2) * 2
	if need := w*h + chromaStride*chromaRows; len(data) < need {
		return nil, fmt.Errorf("NV12のデータ長が不足しています: %d < %d", len(data), need)
	}

	luma := data[:w*h]
	chroma := data[w*h:]
	buf := NewPixelBuffer(w, h)

	for y := 0; y < h; y++ {
		crow := chroma[(y/2)*chromaStride:]
		for x := 0; x < w; x++ {
			yy := luma[y*w+x]
			cb := crow[(x/2)*2]
			cr := crow[(x/2)*2+1]
			if videoRange {
				yy, cb, cr = expandVideoRange(yy, cb, cr)
			}
			r, g, b := color.YCbCrToRGB(yy, cb, cr)
			buf.SetBGRA(x, y, b, g, r, 0xff)
		}
	}
	return buf, nil
}

// convertYUYV はY0 Cb Y1 Crの順に並んだ4:2:2を変換する
func convertYUYV(dims Dimensions, data []byte) (*PixelBuffer, error) {
	w, h := dims.Width, dims.Height
	stride := ((w + 1) / 2) * 4
	if need := stride * h; len(data) < need {
		return nil, fmt.Errorf("YUYVのデータ長が不足しています: %d < %d", len(data), need)
	}

	buf := NewPixelBuffer(w, h)
	for y := 0; y < h; y++ {
		row := data[y*stride:]
		for x := 0; x < w; x++ {
			pair := (x / 2) * 4
			yy := row[pair]
			if x%2 == 1 {
				yy = row[pair+2]
			}
			r, g, b := color.YCbCrToRGB(yy, row[pair+1], row[pair+3])
			buf.SetBGRA(x, y, b, g, r, 0xff)
		}
	}
	return buf, nil
}

// copyBGRA はBGRA32のデータをそのままバッファにコピーする
func copyBGRA(dims Dimensions, data []byte) (*PixelBuffer, error) {
	buf := NewPixelBuffer(dims.Width, dims.Height)
	if len(data) < len(buf.Data) {
		return nil, fmt.Errorf("BGRAのデータ長が不足しています: %d < %d", len(data), len(buf.Data))
	}
	copy(buf.Data, data)
	return buf, nil
}

// decodeMJPEG はJPEGフレームをデコードしてBGRA32に並べ替える
func decodeMJPEG(data []byte) (*PixelBuffer, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("JPEGフレームのデコードに失敗: %w", err)
	}

	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	// RGBA -> BGRA
	pix := rgba.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}

	return &PixelBuffer{
		Width:  b.Dx(),
		Height: b.Dy(),
		Stride: rgba.Stride,
		Layout: PixelLayoutBGRA32,
		Data:   pix,
	}, nil
}

// expandVideoRange はビデオレンジ(Y:16-235, C:16-240)をフルレンジに広げる
func expandVideoRange(y, cb, cr uint8) (uint8, uint8, uint8) {
	yy := (int(y) - 16) * 255 / 219
	cbb := (int(cb)-128)*255/224 + 128
	crr := (int(cr)-128)*255/224 + 128
	return clamp8(yy), clamp8(cbb), clamp8(crr)
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
