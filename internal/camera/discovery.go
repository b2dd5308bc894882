package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なビデオデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの識別情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

var videoDevicePattern = regexp.MustCompile(`^/dev/video(\d+)$`)

// LinuxDiscovery はLinux環境でのビデオデバイス検出を実装する
type LinuxDiscovery struct {
	pattern string
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() *LinuxDiscovery {
	return &LinuxDiscovery{pattern: "/dev/video*"}
}

// ScanDevices はシステム内の利用可能なビデオデバイスを番号順に返す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if d.IsDeviceAvailable(ctx, match) {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが読み取り可能なV4L2デバイスかチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !videoDevicePattern.MatchString(device) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// GetDeviceInfo はデバイスの識別情報を取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !d.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("デバイスが利用できません: %s", device)
	}

	info := &DeviceInfo{
		ID:     "v4l2:" + device,
		Name:   d.deviceName(ctx, device),
		Path:   device,
		Driver: "v4l2",
	}
	if driver := v4l2CtlField(ctx, device, "Driver name"); driver != "" {
		info.Driver = driver
	}

	return info, nil
}

// deviceName は実際のカメラ名を取得し、取得できなければデバイス番号から生成する
func (d *LinuxDiscovery) deviceName(ctx context.Context, device string) string {
	if name := v4l2CtlField(ctx, device, "Card type"); name != "" {
		return name
	}
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
}

// v4l2CtlField は `v4l2-ctl --info` の出力から指定した項目の値を取り出す
// v4l-utilsがインストールされていない場合は空文字列を返す
func v4l2CtlField(ctx context.Context, device, field string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info").Output()
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, field) {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			if value := strings.TrimSpace(parts[1]); value != "" {
				return value
			}
		}
	}

	return ""
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := videoDevicePattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}

	return num
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	devices []string
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	return &MockDiscovery{devices: devices}
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	return m.devices, nil
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	for _, d := range m.devices {
		if d == device {
			return true
		}
	}
	return false
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !m.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("デバイスが見つかりません: %s", device)
	}
	return &DeviceInfo{
		ID:     "mock:" + device,
		Name:   fmt.Sprintf("テストカメラ %d", extractDeviceNumber(device)),
		Path:   device,
		Driver: "mock",
	}, nil
}
