package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"exhub/internal/logger"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format 是配置文件格式。
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var validate = validator.New()

// FormatFromPath 按扩展名判断格式。
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: unsupported config extension %q", ErrInvalidConfig, filepath.Ext(path))
}

// LoadEnv 依次加载 .env 文件；不存在的文件跳过，已存在的环境变量不会被覆盖。
func LoadEnv(files ...string) error {
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			logger.Debugf("[config] 未找到 %s，跳过", f)
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("加载 %s 失败: %w", f, err)
		}
		logger.Debugf("[config] 已加载环境变量文件 %s", f)
	}
	return nil
}

// Load 读取配置文件：先加载 envFiles，再展开 ${VAR}，解码、补默认值并校验。
func Load(path string, envFiles ...string) (*Config, error) {
	if err := LoadEnv(envFiles...); err != nil {
		return nil, err
	}
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置 %s 失败: %w", path, err)
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Infof("[config] 已加载 %s，交易所 %d 个", path, len(cfg.Exchanges))
	return cfg, nil
}

// Parse 解码已读入的配置内容。
func Parse(data []byte, format Format) (*Config, error) {
	expanded := []byte(ExpandEnv(string(data)))
	var cfg Config
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("解析 TOML 失败: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidConfig, format)
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize 补齐默认值并校验，代码里手工构造的配置也应调用一次。
func (c *Config) Finalize() error {
	c.withDefaults()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c.check()
}

// ExpandEnv 只展开 ${VAR} 形式的引用，未设置的变量展开为空串。
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}
