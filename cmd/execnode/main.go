// Package main 执行节点入口
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
	"testexec-platform/internal/execnode"
	"testexec-platform/internal/shared/logger"
)

var (
	configDir      string
	coordinatorURL string
	nodePort       int
)

var rootCmd = &cobra.Command{
	Use:   "execnode",
	Short: "Test execution node",
	Long: `Execution node registers with the coordinator, keeps a heartbeat and runs
dispatched scripts and plans in a bounded worker pool.

Examples:
  execnode run --config ./configs
  execnode run --coordinator http://10.0.0.5:8080 --port 8091`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Register with the coordinator and serve dispatched work",
	RunE:  runNode,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "配置文件目录（或 YAML 文件路径）")
	runCmd.Flags().StringVar(&coordinatorURL, "coordinator", "", "协调器地址，覆盖配置文件")
	runCmd.Flags().IntVar(&nodePort, "port", 0, "节点监听端口，覆盖配置文件")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	if configDir != "" {
		dir := configDir
		if strings.HasSuffix(dir, ".yaml") || strings.HasSuffix(dir, ".yml") {
			dir = filepath.Dir(dir)
		}
		config.SetConfigDir(dir)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if coordinatorURL != "" {
		cfg.Node.CoordinatorURL = coordinatorURL
	}
	if nodePort > 0 {
		cfg.Node.Port = nodePort
	}

	log := logger.New(cfg.Log)
	defer log.Sync()

	node, err := execnode.New(cfg.Node, log)
	if err != nil {
		log.Error("init execution node failed", zap.Error(err))
		return err
	}
	log.Info("starting execution node",
		zap.String("nodeId", node.ID()),
		zap.String("coordinator", cfg.Node.CoordinatorURL))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return node.Run(ctx)
}
