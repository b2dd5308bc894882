//go:build linux

package camera

import "testing"

func TestV4L2Subtypes(t *testing.T) {
	tests := []struct {
		fourcc string
		want   Subtype
	}{
		// ドライバーのNV12はリミテッドレンジとして扱う
		{"NV12", SubtypeVideoRange420},
		{"YUYV", SubtypeYUYV},
		{"MJPG", SubtypeMJPEG},
		{"AR24", SubtypeBGRA},
	}

	for _, tt := range tests {
		t.Run(tt.fourcc, func(t *testing.T) {
			got, ok := v4l2Subtypes[v4l2FourCC(tt.fourcc)]
			if !ok {
				t.Fatalf("Expected %s to be supported", tt.fourcc)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
