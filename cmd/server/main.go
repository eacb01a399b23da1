// TradeFlow
//
// Entry point: wires all components together and manages graceful shutdown.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mtiwari1/tradeflow/internal/config"
	"github.com/mtiwari1/tradeflow/internal/identity"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "tradeflow",
		Short:         "TradeFlow - purchase order ingestion service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, toml or json)")

	root.AddCommand(serveCmd(&configFile))
	root.AddCommand(sessionCmd(&configFile))
	return root
}

// loadConfig reads configuration and builds the process logger. flags maps
// config keys to flags of cmd that override them.
func loadConfig(cmd *cobra.Command, configFile string, flags map[string]string) (*config.Config, *slog.Logger, error) {
	v, err := config.New(configFile)
	if err != nil {
		return nil, nil, err
	}
	for key, name := range flags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, nil, errors.Wrapf(err, "bind flag %s", name)
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, err
	}

	// ── Structured logger ──
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// sessionCmd manages bearer sessions in Redis. Login lives outside this
// service; operators and tests mint tokens here.
func sessionCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage upload sessions",
	}

	create := &cobra.Command{
		Use:   "create [user-id]",
		Short: "Create a session and print its bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, *configFile, nil)
			if err != nil {
				return err
			}
			email, _ := cmd.Flags().GetString("email")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			rdb := newRedis(cfg.Redis)
			defer rdb.Close()

			s, err := identity.NewRedisProvider(rdb).Create(cmd.Context(), args[0], email, ttl)
			if err != nil {
				return errors.Wrap(err, "create session")
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.Token)
			return nil
		},
	}
	create.Flags().String("email", "", "email stored with the session")
	create.Flags().Duration("ttl", 24*time.Hour, "session lifetime (0 never expires)")

	revoke := &cobra.Command{
		Use:   "revoke [token]",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, *configFile, nil)
			if err != nil {
				return err
			}
			rdb := newRedis(cfg.Redis)
			defer rdb.Close()
			return identity.NewRedisProvider(rdb).Revoke(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(create, revoke)
	return cmd
}
