//go:build !linux

package camera

import (
	"context"
)

// unsupportedProvider はV4L2のないプラットフォームで使われる
type unsupportedProvider struct{}

// NewV4L2Provider はV4L2のないプラットフォームでは常にデバイスなしを返すProviderを作成する
func NewV4L2Provider(_ ProviderConfig) (Provider, error) {
	return unsupportedProvider{}, nil
}

func (unsupportedProvider) DefaultDevice(_ context.Context) (Device, error) {
	return nil, ErrNoDeviceAvailable
}

func (unsupportedProvider) Devices(_ context.Context) ([]DeviceInfo, error) {
	return nil, nil
}
