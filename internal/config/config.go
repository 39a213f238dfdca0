// Package config 负责加载 exhub 的 TOML/YAML 配置，并转换为各组件使用的配置结构。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("config: invalid config")

// Config 是配置文件的顶层结构。*_seconds 字段为整数秒，0 表示使用默认值。
type Config struct {
	App       AppConfig        `toml:"app" yaml:"app"`
	Log       LogConfig        `toml:"log" yaml:"log"`
	HTTP      HTTPConfig       `toml:"http" yaml:"http"`
	Manager   ManagerConfig    `toml:"manager" yaml:"manager"`
	Symbols   SymbolsConfig    `toml:"symbols" yaml:"symbols"`
	Exchanges []ExchangeConfig `toml:"exchanges" yaml:"exchanges" validate:"dive"`
}

type AppConfig struct {
	Name               string `toml:"name" yaml:"name,omitempty"`
	DryRun             bool   `toml:"dry_run" yaml:"dry_run,omitempty"`
	StatusEverySeconds int    `toml:"status_every_seconds" yaml:"status_every_seconds,omitempty" validate:"gte=0"`
}

type LogConfig struct {
	Level       string `toml:"level" yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format      string `toml:"format" yaml:"format,omitempty" validate:"omitempty,oneof=console json"`
	Development bool   `toml:"development" yaml:"development,omitempty"`
}

type HTTPConfig struct {
	Disabled bool   `toml:"disabled" yaml:"disabled,omitempty"`
	Addr     string `toml:"addr" yaml:"addr,omitempty"`
}

// ManagerConfig 对应 manager.Config。
type ManagerConfig struct {
	HealthCheckIntervalSeconds       int      `toml:"health_check_interval_seconds" yaml:"health_check_interval_seconds,omitempty" validate:"gte=0"`
	ConnectionMonitorIntervalSeconds int      `toml:"connection_monitor_interval_seconds" yaml:"connection_monitor_interval_seconds,omitempty" validate:"gte=0"`
	ConnectionTimeoutSeconds         int      `toml:"connection_timeout_seconds" yaml:"connection_timeout_seconds,omitempty" validate:"gte=0"`
	MaxConcurrentConnections         int      `toml:"max_concurrent_connections" yaml:"max_concurrent_connections,omitempty" validate:"gte=0"`
	StartupDelaySeconds              int      `toml:"startup_delay_seconds" yaml:"startup_delay_seconds,omitempty"` // 负数表示不等待
	ShutdownTimeoutSeconds           int      `toml:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds,omitempty" validate:"gte=0"`
	RestartSettleSeconds             int      `toml:"restart_settle_seconds" yaml:"restart_settle_seconds,omitempty"`
	ReconnectInitialSeconds          int      `toml:"reconnect_initial_seconds" yaml:"reconnect_initial_seconds,omitempty" validate:"gte=0"`
	ReconnectMaxSeconds              int      `toml:"reconnect_max_seconds" yaml:"reconnect_max_seconds,omitempty" validate:"gte=0"`
	HeartbeatMaxFailures             int      `toml:"heartbeat_max_failures" yaml:"heartbeat_max_failures,omitempty" validate:"gte=0"`
	AutoReconnect                    *bool    `toml:"auto_reconnect" yaml:"auto_reconnect,omitempty"`
	RequireAllConnected              bool     `toml:"require_all_connected" yaml:"require_all_connected,omitempty"`
	HealthyStatuses                  []string `toml:"healthy_statuses" yaml:"healthy_statuses,omitempty"`
}

// SymbolsConfig 对应 symbolcache.OverlapConfig 以及品种转换器的计价货币别名。
type SymbolsConfig struct {
	MinExchangeCount      int               `toml:"min_exchange_count" yaml:"min_exchange_count,omitempty" validate:"gte=0"`
	UseOverlapOnly        bool              `toml:"use_overlap_only" yaml:"use_overlap_only,omitempty"`
	MaxSymbolsPerExchange int               `toml:"max_symbols_per_exchange" yaml:"max_symbols_per_exchange,omitempty" validate:"gte=0"`
	IncludePatterns       []string          `toml:"include_patterns" yaml:"include_patterns,omitempty"`
	ExcludePatterns       []string          `toml:"exclude_patterns" yaml:"exclude_patterns,omitempty"`
	ExchangePriority      []string          `toml:"exchange_priority" yaml:"exchange_priority,omitempty"`
	FetchTimeoutSeconds   int               `toml:"fetch_timeout_seconds" yaml:"fetch_timeout_seconds,omitempty" validate:"gte=0"`
	QuoteAliases          map[string]string `toml:"quote_aliases" yaml:"quote_aliases,omitempty"`
}

// ExchangeConfig 是单个交易所条目，对应 exchange.Config 与 subscription.Config。
type ExchangeConfig struct {
	ID                       string             `toml:"id" yaml:"id" validate:"required"`
	Kind                     string             `toml:"kind" yaml:"kind,omitempty"`
	Disabled                 bool               `toml:"disabled" yaml:"disabled,omitempty"`
	Priority                 int                `toml:"priority" yaml:"priority"`
	APIKey                   string             `toml:"api_key" yaml:"api_key,omitempty"`
	APISecret                string             `toml:"api_secret" yaml:"api_secret,omitempty"`
	Passphrase               string             `toml:"passphrase" yaml:"passphrase,omitempty"`
	RESTURL                  string             `toml:"rest_url" yaml:"rest_url,omitempty" validate:"omitempty,url"`
	WSURL                    string             `toml:"ws_url" yaml:"ws_url,omitempty" validate:"omitempty,url"`
	Testnet                  bool               `toml:"testnet" yaml:"testnet,omitempty"`
	EnableWebsocket          *bool              `toml:"enable_websocket" yaml:"enable_websocket,omitempty"`
	AutoReconnect            *bool              `toml:"auto_reconnect" yaml:"auto_reconnect,omitempty"`
	EnableHeartbeat          *bool              `toml:"enable_heartbeat" yaml:"enable_heartbeat,omitempty"`
	HeartbeatIntervalSeconds int                `toml:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds,omitempty" validate:"gte=0"`
	TimeoutSeconds           int                `toml:"timeout_seconds" yaml:"timeout_seconds,omitempty" validate:"gte=0"`
	MaxRetries               int                `toml:"max_retries" yaml:"max_retries,omitempty" validate:"gte=0"`
	RetryDelaySeconds        int                `toml:"retry_delay_seconds" yaml:"retry_delay_seconds,omitempty" validate:"gte=0"`
	Symbols                  []string           `toml:"symbols" yaml:"symbols,omitempty"`
	Extra                    map[string]string  `toml:"extra" yaml:"extra,omitempty"`
	Subscription             SubscriptionConfig `toml:"subscription" yaml:"subscription"`
}

type SubscriptionConfig struct {
	Mode         string           `toml:"mode" yaml:"mode,omitempty" validate:"omitempty,oneof=predefined dynamic"`
	Predefined   PredefinedConfig `toml:"predefined" yaml:"predefined,omitempty"`
	Dynamic      DynamicConfig    `toml:"dynamic" yaml:"dynamic,omitempty"`
	BatchSize    int              `toml:"batch_size" yaml:"batch_size,omitempty" validate:"gte=0"`
	BatchDelayMs int              `toml:"batch_delay_ms" yaml:"batch_delay_ms,omitempty" validate:"gte=0"`
}

type PredefinedConfig struct {
	Symbols   []string        `toml:"symbols" yaml:"symbols,omitempty"`
	DataTypes map[string]bool `toml:"data_types" yaml:"data_types,omitempty"`
}

type DynamicConfig struct {
	DataTypes                    map[string]bool `toml:"data_types" yaml:"data_types,omitempty"`
	IncludePatterns              []string        `toml:"include_patterns" yaml:"include_patterns,omitempty"`
	ExcludePatterns              []string        `toml:"exclude_patterns" yaml:"exclude_patterns,omitempty"`
	MaxSymbols                   int             `toml:"max_symbols" yaml:"max_symbols,omitempty" validate:"gte=0"`
	AutoDiscoveryIntervalSeconds int             `toml:"auto_discovery_interval_seconds" yaml:"auto_discovery_interval_seconds,omitempty" validate:"gte=0"`
	MaxRetryAttempts             int             `toml:"max_retry_attempts" yaml:"max_retry_attempts,omitempty" validate:"gte=0"`
	RetryDelaySeconds            int             `toml:"retry_delay_seconds" yaml:"retry_delay_seconds,omitempty"`
}

const defaultHTTPAddr = ":9992"

func (c *Config) withDefaults() {
	if strings.TrimSpace(c.App.Name) == "" {
		c.App.Name = "exhub"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = defaultHTTPAddr
	}
	if c.Manager.AutoReconnect == nil {
		c.Manager.AutoReconnect = boolPtr(true)
	}
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		ex.ID = strings.ToLower(strings.TrimSpace(ex.ID))
		ex.Kind = strings.ToLower(strings.TrimSpace(ex.Kind))
		if ex.Kind == "" {
			ex.Kind = ex.ID
		}
		if ex.EnableWebsocket == nil {
			ex.EnableWebsocket = boolPtr(true)
		}
		if ex.AutoReconnect == nil {
			ex.AutoReconnect = boolPtr(true)
		}
		if ex.EnableHeartbeat == nil {
			ex.EnableHeartbeat = boolPtr(true)
		}
		if ex.Subscription.Mode == "" {
			ex.Subscription.Mode = "predefined"
		}
	}
}

// check 做 validator 覆盖不到的语义校验：ID 唯一、数据类型名合法。
func (c *Config) check() error {
	seen := make(map[string]bool, len(c.Exchanges))
	for i, ex := range c.Exchanges {
		if seen[ex.ID] {
			return fmt.Errorf("%w: duplicate exchange id %q", ErrInvalidConfig, ex.ID)
		}
		seen[ex.ID] = true
		if _, err := parseKinds(ex.Subscription.Predefined.DataTypes); err != nil {
			return fmt.Errorf("%w: exchanges[%d].subscription.predefined: %v", ErrInvalidConfig, i, err)
		}
		if _, err := parseKinds(ex.Subscription.Dynamic.DataTypes); err != nil {
			return fmt.Errorf("%w: exchanges[%d].subscription.dynamic: %v", ErrInvalidConfig, i, err)
		}
	}
	return nil
}

// Redacted 返回把密钥替换为 *** 的副本，用于输出有效配置。
func (c Config) Redacted() Config {
	out := c
	out.Exchanges = make([]ExchangeConfig, len(c.Exchanges))
	for i, ex := range c.Exchanges {
		ex.APIKey = mask(ex.APIKey)
		ex.APISecret = mask(ex.APISecret)
		ex.Passphrase = mask(ex.Passphrase)
		out.Exchanges[i] = ex
	}
	return out
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	return "***"
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func boolPtr(v bool) *bool { return &v }

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
