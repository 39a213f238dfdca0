package symbolcache

import (
	"fmt"
	"strings"
	"time"
)

// OverlapConfig 控制重叠计算与候选列表生成，按值传递，服务内部不修改。
type OverlapConfig struct {
	MinExchangeCount      int
	UseOverlapOnly        bool
	MaxSymbolsPerExchange int
	IncludePatterns       []string
	ExcludePatterns       []string
	ExchangePriority      []string
	FetchTimeout          time.Duration
}

func (c OverlapConfig) withDefaults() OverlapConfig {
	out := c
	if out.MinExchangeCount == 0 {
		out.MinExchangeCount = 2
	}
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = 30 * time.Second
	}
	out.IncludePatterns = append([]string(nil), c.IncludePatterns...)
	out.ExcludePatterns = append([]string(nil), c.ExcludePatterns...)
	out.ExchangePriority = append([]string(nil), c.ExchangePriority...)
	return out
}

func (c OverlapConfig) validate() error {
	if c.MinExchangeCount < 1 {
		return fmt.Errorf("%w: min exchange count must be >= 1, got %d", ErrInvalidConfig, c.MinExchangeCount)
	}
	if c.MaxSymbolsPerExchange < 0 {
		return fmt.Errorf("%w: max symbols per exchange must be >= 0", ErrInvalidConfig)
	}
	for _, p := range append(append([]string{}, c.IncludePatterns...), c.ExcludePatterns...) {
		if strings.ContainsAny(p, "?[]") {
			return fmt.Errorf("%w: pattern %q uses unsupported wildcard (only * is allowed)", ErrInvalidConfig, p)
		}
	}
	return nil
}
