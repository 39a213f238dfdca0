package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"exhub/internal/config"
	"exhub/internal/config/writer"
	"exhub/internal/logger"
	"exhub/internal/runner"
)

func main() {
	var (
		cfgPath     = flag.String("config", "", "配置文件路径 (.toml/.yaml)，为空时使用内置演示配置")
		envFile     = flag.String("env", ".env", "启动前加载的 env 文件")
		writeConfig = flag.String("write-config", "", "把最终配置（密钥打码）写到该路径后退出")
		dryRun      = flag.Bool("dry-run", false, "所有交易所改用模拟适配器")
		statusEvery = flag.Int("status-every", -1, "状态表输出间隔（秒），0 关闭，负数沿用配置")
	)
	flag.Parse()

	if err := run(*cfgPath, *envFile, *writeConfig, *dryRun, *statusEvery); err != nil {
		fmt.Fprintf(os.Stderr, "exhub: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, envFile, writeConfig string, dryRun bool, statusEvery int) error {
	var (
		cfg *config.Config
		err error
	)
	if cfgPath == "" {
		if err := config.LoadEnv(envFile); err != nil {
			return err
		}
		cfg = config.Default()
	} else if cfg, err = config.Load(cfgPath, envFile); err != nil {
		return err
	}
	if dryRun {
		cfg.App.DryRun = true
	}
	if statusEvery >= 0 {
		cfg.App.StatusEverySeconds = statusEvery
	}

	if writeConfig != "" {
		redacted := cfg.Redacted()
		if err := writer.New(writeConfig).Write(&redacted); err != nil {
			return err
		}
		fmt.Printf("配置已写入 %s\n", writeConfig)
		return nil
	}

	if err := logger.Init(cfg.LoggerOptions()); err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := runner.New(runner.Options{Config: cfg})
	if err != nil {
		return err
	}
	logger.Infof("[exhub] 启动 %s: 交易所 %v, dry-run=%v", cfg.App.Name, cfg.EnabledExchangeIDs(), cfg.App.DryRun)
	if err := r.Run(ctx); err != nil {
		return err
	}
	logger.Infof("[exhub] 已退出")
	return nil
}
