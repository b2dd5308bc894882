package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"videocap/internal/camera"
)

// EnvPrefix は環境変数のプレフィックス
const EnvPrefix = "VIDEOCAP"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
	Camera CameraConfig `mapstructure:"camera" yaml:"camera" json:"camera"`
	Log    LogConfig    `mapstructure:"log" yaml:"log" json:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"` // ステータスサーバーを起動するか
	Host    string `mapstructure:"host" yaml:"host" json:"host"`       // リッスンするホスト
	Port    int    `mapstructure:"port" yaml:"port" json:"port"`       // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`         // 読み込みタイムアウト
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`       // 書き込みタイムアウト
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"` // 停止待ちの上限
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Backend         string `mapstructure:"backend" yaml:"backend" json:"backend"`                   // v4l2 または synthetic
	Device          string `mapstructure:"device" yaml:"device" json:"device"`                     // デバイスパス。空なら自動検出
	Preset          string `mapstructure:"preset" yaml:"preset" json:"preset"`                     // high / medium / low
	FrameRate       int    `mapstructure:"frame_rate" yaml:"frame_rate" json:"frame_rate"`             // 要求するフレームレート (fps)
	RequiredSubtype string `mapstructure:"required_subtype" yaml:"required_subtype" json:"required_subtype"` // 要求するピクセル形式 (FourCC)
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" json:"pretty"`
}

// MaxFrameRate は設定できるフレームレートの上限
const MaxFrameRate = 240

// SetDefaults はviperにデフォルト値を登録する
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 0) // websocket用にタイムアウト無効化
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("camera.backend", camera.BackendV4L2)
	v.SetDefault("camera.device", "")
	v.SetDefault("camera.preset", string(camera.PresetHigh))
	v.SetDefault("camera.frame_rate", 30)
	v.SetDefault("camera.required_subtype", camera.SubtypeFullRange420.String())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// New はデフォルト値と環境変数を設定したviperを作成する
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load は設定を読み込む
// path が空の場合はデフォルト値と環境変数のみを使う
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper はviperの値から設定を作り、検証する
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// カメラ設定の検証
	if c.Camera.Backend == "" {
		return errors.New("バックエンドが指定されていません")
	}
	if _, err := camera.ParsePreset(c.Camera.Preset); err != nil {
		return err
	}
	if c.Camera.FrameRate < 1 || c.Camera.FrameRate > MaxFrameRate {
		return fmt.Errorf("無効なフレームレート: %d (1-%d)", c.Camera.FrameRate, MaxFrameRate)
	}
	if _, err := c.Subtype(); err != nil {
		return err
	}

	return nil
}

// Preset は設定されたプリセットを返す
func (c *Config) Preset() camera.Preset {
	p, err := camera.ParsePreset(c.Camera.Preset)
	if err != nil {
		return camera.PresetHigh
	}
	return p
}

// Subtype は要求するピクセル形式を返す。未指定なら '420f'
func (c *Config) Subtype() (camera.Subtype, error) {
	if c.Camera.RequiredSubtype == "" {
		return camera.SubtypeFullRange420, nil
	}
	return camera.ParseSubtype(c.Camera.RequiredSubtype)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
