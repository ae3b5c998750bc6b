package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zirpo/pm-backend/internal/config"
	pkgconfig "github.com/zirpo/pm-backend/pkg/config"
)

var (
	configEnv string
	configDir string
)

var rootCmd = &cobra.Command{
	Use:   "pm-backend",
	Short: "Project plan service with LLM-driven updates and recommendations",
	Long: `pm-backend stores one JSON project plan per project.

Plans are changed by free-text updates that a language model turns into a
validated replacement plan, and can be queried for recommendations without
being modified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute is called by main.main().
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configEnv, "env", pkgconfig.GetConfigEnv(),
		"config environment, selects config/<env>.yaml (CONFIG_ENV)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", pkgconfig.GetEnv("CONFIG_DIR", "config"),
		"directory holding base.yaml, <env>.yaml and secrets.env (CONFIG_DIR)")
}

func loadConfig() (*config.Config, error) {
	return config.Load(configEnv, configDir)
}
