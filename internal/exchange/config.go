package exchange

import (
	"strings"
	"time"
)

// Config 描述单个交易所适配器的静态配置，构造后不可修改。
type Config struct {
	ID         string
	Kind       string
	Disabled   bool
	Priority   int
	APIKey     string
	APISecret  string
	Passphrase string
	RESTURL    string
	WSURL      string
	Testnet    bool

	EnableWebsocket   bool
	AutoReconnect     bool
	EnableHeartbeat   bool
	HeartbeatInterval time.Duration
	Timeout           time.Duration
	MaxRetries        int
	RetryDelay        time.Duration

	// Symbols 为可选的静态品种列表，模拟交易所用它作为支持列表。
	Symbols []string
	Extra   map[string]string
}

// WithDefaults 返回补齐默认值后的副本。
func (c Config) WithDefaults() Config {
	out := c
	out.ID = strings.ToLower(strings.TrimSpace(out.ID))
	out.Kind = strings.ToLower(strings.TrimSpace(out.Kind))
	if out.Kind == "" {
		out.Kind = out.ID
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = 30 * time.Second
	}
	if out.Timeout <= 0 {
		out.Timeout = 15 * time.Second
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = time.Second
	}
	if len(c.Symbols) > 0 {
		out.Symbols = append([]string(nil), c.Symbols...)
	}
	if len(c.Extra) > 0 {
		out.Extra = make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// HasCredentials 表示是否配置了私有接口所需的密钥。
func (c Config) HasCredentials() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.APISecret) != ""
}

// ExtraValue 读取扩展参数，不存在时返回 def。
func (c Config) ExtraValue(key, def string) string {
	if v, ok := c.Extra[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}
