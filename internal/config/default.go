package config

// Default 返回无配置文件时使用的演示配置：两个模拟交易所加一个 Binance 合约，动态发现品种。
func Default() *Config {
	cfg := &Config{
		Symbols: SymbolsConfig{
			MinExchangeCount: 2,
			QuoteAliases:     map[string]string{"USDC": "USDT"},
		},
		Exchanges: []ExchangeConfig{
			{
				ID:       "binance",
				Kind:     "binance",
				Priority: 1,
				Subscription: SubscriptionConfig{
					Mode: "dynamic",
					Dynamic: DynamicConfig{
						DataTypes:       map[string]bool{"ticker": true, "trades": true},
						ExcludePatterns: []string{"*DOWN*", "*UP*"},
						MaxSymbols:      20,
					},
				},
			},
			{
				ID:       "sima",
				Kind:     "sim",
				Priority: 2,
				Symbols:  []string{"BTC_USDT_PERP", "ETH_USDT_PERP", "SOL_USDT_PERP"},
				Subscription: SubscriptionConfig{
					Predefined: PredefinedConfig{
						Symbols:   []string{"BTC_USDT_PERP", "ETH_USDT_PERP"},
						DataTypes: map[string]bool{"ticker": true},
					},
				},
			},
			{
				ID:       "simb",
				Kind:     "sim",
				Priority: 3,
				Symbols:  []string{"BTC/USDT:PERP", "ETH/USDT:PERP", "DOGE/USDT:PERP"},
				Subscription: SubscriptionConfig{
					Mode: "dynamic",
					Dynamic: DynamicConfig{
						DataTypes: map[string]bool{"ticker": true, "orderbook": true},
					},
				},
			},
		},
	}
	if err := cfg.Finalize(); err != nil {
		panic(err)
	}
	return cfg
}
