package subscription

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"exhub/internal/exchange"
)

var ErrInvalidConfig = errors.New("subscription: invalid config")

// Mode 决定订阅品种的来源。
type Mode string

const (
	ModePredefined Mode = "predefined" // 配置文件给定的固定列表
	ModeDynamic    Mode = "dynamic"    // 通过发现获得，按间隔刷新
)

// ParseMode 空字符串视为 predefined。
func ParseMode(v string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(v))) {
	case "", ModePredefined:
		return ModePredefined, nil
	case ModeDynamic:
		return ModeDynamic, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, v)
}

type Predefined struct {
	Symbols   []string
	DataTypes map[exchange.DataKind]bool
}

type Dynamic struct {
	DataTypes             map[exchange.DataKind]bool
	IncludePatterns       []string
	ExcludePatterns       []string
	MaxSymbols            int
	AutoDiscoveryInterval time.Duration
	MaxRetryAttempts      int
	RetryDelay            time.Duration
}

// Batch 控制逐个订阅时的分批节奏；适配器支持批量订阅时不生效。
type Batch struct {
	Size  int
	Delay time.Duration
}

type Config struct {
	Mode       Mode
	Predefined Predefined
	Dynamic    Dynamic
	Batch      Batch
}

func (c Config) withDefaults() Config {
	out := c
	if out.Mode == "" {
		out.Mode = ModePredefined
	}
	if out.Dynamic.AutoDiscoveryInterval <= 0 {
		out.Dynamic.AutoDiscoveryInterval = 600 * time.Second
	}
	if out.Dynamic.MaxRetryAttempts <= 0 {
		out.Dynamic.MaxRetryAttempts = 3
	}
	if out.Dynamic.RetryDelay < 0 {
		out.Dynamic.RetryDelay = 0
	} else if out.Dynamic.RetryDelay == 0 {
		out.Dynamic.RetryDelay = 5 * time.Second
	}
	if out.Batch.Size <= 0 {
		out.Batch.Size = 10
	}
	out.Predefined.Symbols = append([]string(nil), c.Predefined.Symbols...)
	out.Predefined.DataTypes = copyKinds(c.Predefined.DataTypes)
	out.Dynamic.DataTypes = copyKinds(c.Dynamic.DataTypes)
	out.Dynamic.IncludePatterns = append([]string(nil), c.Dynamic.IncludePatterns...)
	out.Dynamic.ExcludePatterns = append([]string(nil), c.Dynamic.ExcludePatterns...)
	return out
}

func (c Config) validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Dynamic.MaxSymbols < 0 {
		return fmt.Errorf("%w: max symbols must be >= 0", ErrInvalidConfig)
	}
	for _, p := range append(append([]string{}, c.Dynamic.IncludePatterns...), c.Dynamic.ExcludePatterns...) {
		if strings.ContainsAny(p, "?[]") {
			return fmt.Errorf("%w: pattern %q uses unsupported wildcard", ErrInvalidConfig, p)
		}
	}
	return nil
}

func copyKinds(in map[exchange.DataKind]bool) map[exchange.DataKind]bool {
	out := make(map[exchange.DataKind]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
