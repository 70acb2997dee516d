package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/arkilian/catalog/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bootstrap the catalog and serve the gRPC and HTTP APIs",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("grpc-addr", "", "gRPC listen address")
	serveCmd.Flags().String("http-addr", "", "HTTP listen address")
	serveCmd.Flags().Bool("no-grpc", false, "Disable the gRPC API")
	serveCmd.Flags().Bool("no-http", false, "Disable the HTTP API")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	overrideString(&cfg.GRPC.Addr, "grpc-addr")
	overrideString(&cfg.HTTP.Addr, "http-addr")
	if viper.GetBool("no-grpc") {
		cfg.GRPC.Enabled = false
	}
	if viper.GetBool("no-http") {
		cfg.HTTP.Enabled = false
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	logger.Info("serving",
		zap.String("version", version),
		zap.String("grpc_addr", a.GRPCAddr()),
		zap.String("http_addr", a.HTTPAddr()))

	return a.WaitForShutdown(ctx)
}
