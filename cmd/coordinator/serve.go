package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testexec-platform/internal/config"
	"testexec-platform/internal/coordinator/server"
	"testexec-platform/internal/shared/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadConfig 解析 --config 后加载配置并创建日志
func loadConfig() (*config.Config, *zap.Logger, error) {
	if configDir != "" {
		dir := configDir
		// 支持直接指定 YAML 文件路径
		if strings.HasSuffix(dir, ".yaml") || strings.HasSuffix(dir, ".yml") {
			dir = filepath.Dir(dir)
		}
		config.SetConfigDir(dir)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg.Log), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting coordinator", zap.String("env", string(cfg.Env)), zap.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.New(ctx, cfg, log)
	if err != nil {
		log.Error("init coordinator failed", zap.Error(err))
		return err
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Error("coordinator stopped with error", zap.Error(err))
		return err
	}
	log.Info("coordinator stopped")
	return nil
}
