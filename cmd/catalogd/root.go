package main

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/arkilian/catalog/internal/config"
	"github.com/arkilian/catalog/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "catalogd",
		Short: "catalog metadata node",
		Long: `catalogd keeps the catalog, schema and table metadata of one node in a
key-value backend and rebuilds its in-memory catalog tree on start.

Every flag can also be set through the environment as CATALOGD_<FLAG>
(e.g. CATALOGD_LOG_LEVEL=debug). A .env file in the working directory is
loaded first.`,
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of catalogd",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "catalogd %s (commit: %s)\n", version, commit)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := RootCmd.PersistentFlags()
	flags.String("config", "", "Path to configuration file (YAML or JSON)")
	flags.String("node-id", "", "Node id owning the catalog entries (default: hostname)")
	flags.String("data-dir", "", "Base directory for all data files")
	flags.String("backend", "", "KV backend: memory, sqlite, pebble, s3")
	flags.String("backend-path", "", "Path of the sqlite or pebble backend")
	flags.Bool("conditional-writes", false, "Reject writes to keys that already exist")
	flags.String("engine", "", "Table engine: memory, sqlite")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (json, console)")

	RootCmd.AddCommand(serveCmd, catalogsCmd, versionCmd)
}

func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("catalogd")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig builds the configuration from the config file, CATALOGD_*
// environment variables and finally the bound command line flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if path := viper.GetString("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	overrideString(&cfg.NodeID, "node-id")
	overrideString(&cfg.DataDir, "data-dir")
	overrideString(&cfg.Backend.Type, "backend")
	overrideString(&cfg.Backend.Path, "backend-path")
	overrideString(&cfg.Engine.Type, "engine")
	overrideString(&cfg.Log.Level, "log-level")
	overrideString(&cfg.Log.Format, "log-format")
	if viper.GetBool("conditional-writes") {
		cfg.Backend.ConditionalWrites = true
	}
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := viper.GetString(key); v != "" {
		*dst = v
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
