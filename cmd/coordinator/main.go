// Package main 协调器入口
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Test execution coordinator",
	Long: `Coordinator keeps the execution node registry, stores scripts and plans,
dispatches work to nodes and collects execution reports.

Examples:
  coordinator serve --config ./configs
  coordinator migrate`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "配置文件目录（或 YAML 文件路径）")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
