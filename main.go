package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MbehouChouaibou/Heyama-backend/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand builds the command that runs the objects API
func newRootCommand() *cobra.Command {
	v := viper.New()
	var configSource, envFile string

	cmd := &cobra.Command{
		Use:           "objects-api",
		Short:         "REST backend for titled objects with uploaded images",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := server.LoadDotEnv(envFile, v); err != nil {
				return err
			}

			config, err := server.LoadConfig(configSource, v)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logger, err := server.NewLogger(config.Log.Level, config.Log.Format)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.NewServer(ctx, config, logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			logger.Info("starting objects API")
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&configSource, "config", "", "YAML or TOML config file, or ssm:<parameter> to read from Parameter Store")
	cmd.Flags().StringVar(&envFile, "env-file", server.DefaultDotEnvFile, "KEY=VALUE file applied below the process environment")
	if err := bindFlags(cmd.Flags(), v); err != nil {
		panic(err)
	}

	return cmd
}

// bindFlags declares the override flags and binds them to their config keys
func bindFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	flags.Int("port", 0, "HTTP listen port")
	flags.Int("grpc-port", 0, "gRPC health listen port")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text or json)")

	for key, name := range map[string]string{
		"server.http_port": "port",
		"server.grpc_port": "grpc-port",
		"log.level":        "log-level",
		"log.format":       "log-format",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}
