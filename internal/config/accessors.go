package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/exchange/manager"
	"exhub/internal/exchange/sim"
	"exhub/internal/logger"
	"exhub/internal/subscription"
	"exhub/internal/symbolcache"
)

func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{Level: c.Log.Level, Format: c.Log.Format, Development: c.Log.Development}
}

// HTTPAddr 返回状态服务监听地址，禁用时返回空串。
func (c *Config) HTTPAddr() string {
	if c.HTTP.Disabled {
		return ""
	}
	return strings.TrimSpace(c.HTTP.Addr)
}

func (c *Config) StatusEvery() time.Duration { return seconds(c.App.StatusEverySeconds) }

func (c *Config) ManagerConfig() manager.Config {
	m := c.Manager
	return manager.Config{
		HealthCheckInterval:       seconds(m.HealthCheckIntervalSeconds),
		ConnectionMonitorInterval: seconds(m.ConnectionMonitorIntervalSeconds),
		ConnectionTimeout:         seconds(m.ConnectionTimeoutSeconds),
		MaxConcurrentConnections:  m.MaxConcurrentConnections,
		StartupDelay:              seconds(m.StartupDelaySeconds),
		ShutdownTimeout:           seconds(m.ShutdownTimeoutSeconds),
		RestartSettleDelay:        seconds(m.RestartSettleSeconds),
		ReconnectInitialDelay:     seconds(m.ReconnectInitialSeconds),
		ReconnectMaxDelay:         seconds(m.ReconnectMaxSeconds),
		HeartbeatMaxFailures:      m.HeartbeatMaxFailures,
		DisableAutoReconnect:      !boolOr(m.AutoReconnect, true),
		RequireAllConnected:       m.RequireAllConnected,
		HealthyStatuses:           append([]string(nil), m.HealthyStatuses...),
	}
}

// OverlapConfig 未配置 exchange_priority 时按交易所 priority 排序。
func (c *Config) OverlapConfig() symbolcache.OverlapConfig {
	s := c.Symbols
	priority := append([]string(nil), s.ExchangePriority...)
	if len(priority) == 0 {
		priority = c.EnabledExchangeIDs()
	}
	return symbolcache.OverlapConfig{
		MinExchangeCount:      s.MinExchangeCount,
		UseOverlapOnly:        s.UseOverlapOnly,
		MaxSymbolsPerExchange: s.MaxSymbolsPerExchange,
		IncludePatterns:       append([]string(nil), s.IncludePatterns...),
		ExcludePatterns:       append([]string(nil), s.ExcludePatterns...),
		ExchangePriority:      priority,
		FetchTimeout:          seconds(s.FetchTimeoutSeconds),
	}
}

func (c *Config) QuoteAliases() map[string]string {
	out := make(map[string]string, len(c.Symbols.QuoteAliases))
	for k, v := range c.Symbols.QuoteAliases {
		out[k] = v
	}
	return out
}

// EnabledExchangeIDs 返回未禁用的交易所，按 priority、id 排序。
func (c *Config) EnabledExchangeIDs() []string {
	type entry struct {
		id       string
		priority int
	}
	list := make([]entry, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if !ex.Disabled {
			list = append(list, entry{id: ex.ID, priority: ex.Priority})
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority < list[j].priority
		}
		return list[i].id < list[j].id
	})
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.id
	}
	return out
}

func (c *Config) AdapterConfig(i int) exchange.Config {
	ex := c.Exchanges[i]
	cfg := exchange.Config{
		ID:                ex.ID,
		Kind:              ex.Kind,
		Disabled:          ex.Disabled,
		Priority:          ex.Priority,
		APIKey:            ex.APIKey,
		APISecret:         ex.APISecret,
		Passphrase:        ex.Passphrase,
		RESTURL:           ex.RESTURL,
		WSURL:             ex.WSURL,
		Testnet:           ex.Testnet,
		EnableWebsocket:   boolOr(ex.EnableWebsocket, true),
		AutoReconnect:     boolOr(ex.AutoReconnect, true),
		EnableHeartbeat:   boolOr(ex.EnableHeartbeat, true),
		HeartbeatInterval: seconds(ex.HeartbeatIntervalSeconds),
		Timeout:           seconds(ex.TimeoutSeconds),
		MaxRetries:        ex.MaxRetries,
		RetryDelay:        seconds(ex.RetryDelaySeconds),
		Symbols:           append([]string(nil), ex.Symbols...),
		Extra:             ex.Extra,
	}
	if c.App.DryRun {
		cfg.Kind = sim.Kind
	}
	return cfg.WithDefaults()
}

func (c *Config) SubscriptionConfig(i int) (subscription.Config, error) {
	sub := c.Exchanges[i].Subscription
	mode, err := subscription.ParseMode(sub.Mode)
	if err != nil {
		return subscription.Config{}, err
	}
	pre, err := parseKinds(sub.Predefined.DataTypes)
	if err != nil {
		return subscription.Config{}, fmt.Errorf("%w: %v", subscription.ErrInvalidConfig, err)
	}
	dyn, err := parseKinds(sub.Dynamic.DataTypes)
	if err != nil {
		return subscription.Config{}, fmt.Errorf("%w: %v", subscription.ErrInvalidConfig, err)
	}
	return subscription.Config{
		Mode: mode,
		Predefined: subscription.Predefined{
			Symbols:   append([]string(nil), sub.Predefined.Symbols...),
			DataTypes: pre,
		},
		Dynamic: subscription.Dynamic{
			DataTypes:             dyn,
			IncludePatterns:       append([]string(nil), sub.Dynamic.IncludePatterns...),
			ExcludePatterns:       append([]string(nil), sub.Dynamic.ExcludePatterns...),
			MaxSymbols:            sub.Dynamic.MaxSymbols,
			AutoDiscoveryInterval: seconds(sub.Dynamic.AutoDiscoveryIntervalSeconds),
			MaxRetryAttempts:      sub.Dynamic.MaxRetryAttempts,
			RetryDelay:            seconds(sub.Dynamic.RetryDelaySeconds),
		},
		Batch: subscription.Batch{
			Size:  sub.BatchSize,
			Delay: time.Duration(sub.BatchDelayMs) * time.Millisecond,
		},
	}, nil
}

func parseKinds(in map[string]bool) (map[exchange.DataKind]bool, error) {
	out := make(map[exchange.DataKind]bool, len(in))
	for name, on := range in {
		kind, err := exchange.ParseDataKind(name)
		if err != nil {
			return nil, err
		}
		out[kind] = on
	}
	return out, nil
}
