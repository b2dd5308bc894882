package camera

import (
	"fmt"
	"sort"
)

// バックエンド名
const (
	BackendV4L2      = "v4l2"
	BackendSynthetic = "synthetic"
)

// ProviderConfig はProvider作成設定
type ProviderConfig struct {
	Device string // デバイスパス。空の場合は自動検出
}

// ProviderCreator はProvider作成関数の型
type ProviderCreator func(config ProviderConfig) (Provider, error)

// ProviderFactory はバックエンド名からProviderを作成する
type ProviderFactory interface {
	CreateProvider(backend string, config ProviderConfig) (Provider, error)
	GetSupportedBackends() []string
}

// DefaultProviderFactory は標準実装
type DefaultProviderFactory struct {
	creators map[string]ProviderCreator
}

// NewProviderFactory は標準のバックエンドを登録したファクトリーを作成する
func NewProviderFactory() *DefaultProviderFactory {
	factory := &DefaultProviderFactory{
		creators: make(map[string]ProviderCreator),
	}

	factory.Register(BackendV4L2, NewV4L2Provider)
	factory.Register(BackendSynthetic, NewSyntheticProvider)

	return factory
}

// Register はProvider作成関数を登録する
func (f *DefaultProviderFactory) Register(backend string, creator ProviderCreator) {
	f.creators[backend] = creator
}

// CreateProvider はProviderを作成する
func (f *DefaultProviderFactory) CreateProvider(backend string, config ProviderConfig) (Provider, error) {
	creator, exists := f.creators[backend]
	if !exists {
		return nil, fmt.Errorf("サポートされていないバックエンド: %s", backend)
	}

	return creator(config)
}

// GetSupportedBackends はサポートされているバックエンドを名前順で返す
func (f *DefaultProviderFactory) GetSupportedBackends() []string {
	backends := make([]string, 0, len(f.creators))
	for name := range f.creators {
		backends = append(backends, name)
	}
	sort.Strings(backends)
	return backends
}
