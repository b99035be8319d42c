package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"stock-ledger/config"
	"stock-ledger/internal/redisclient"
	"stock-ledger/internal/store"
	"stock-ledger/internal/util"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg     *config.Config
	verbose bool

	rootCmd = &cobra.Command{
		Use:           "stockledger",
		Short:         "Inventory and loan ledger with point-in-time valuation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Load()
			return util.InitLogger(cfg.Server.Env, verbose)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			util.SyncLogger()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.AddCommand(migrateCmd, valueCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore resolves credentials and connects to the store
func openStore(ctx context.Context) (*store.Store, error) {
	creds, err := cfg.Resolver().Resolve()
	if err != nil {
		return nil, err
	}

	st, err := store.NewStore(ctx, creds)
	if err != nil {
		return nil, err
	}
	util.GetLogger().Info("Store connected", zap.String("dialect", string(st.Dialect())))
	return st, nil
}

// openRedis connects to redis when an address is configured
func openRedis() *redisclient.Client {
	if !cfg.Redis.Enabled() {
		return nil
	}
	rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		util.GetLogger().Warn("Redis unavailable, continuing without it", zap.Error(err))
		return nil
	}
	return rc
}

// ensureSchema runs EnsureSchema, holding the redis migration lock when
// redis is available so concurrent starts do not race.
func ensureSchema(ctx context.Context, st *store.Store, rc *redisclient.Client) error {
	logger := util.GetLogger()
	if rc == nil {
		return st.EnsureSchema(ctx)
	}

	const lockKey = "schema"
	deadline := time.Now().Add(cfg.Business.SchemaLockTTL)
	for {
		token, err := rc.AcquireLock(ctx, lockKey, cfg.Business.SchemaLockTTL)
		if err != nil {
			logger.Warn("Schema lock unavailable, migrating without it", zap.Error(err))
			return st.EnsureSchema(ctx)
		}
		if token != "" {
			defer func() {
				if err := rc.ReleaseLock(context.Background(), lockKey, token); err != nil {
					logger.Warn("Failed to release schema lock", zap.Error(err))
				}
			}()
			return st.EnsureSchema(ctx)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("schema lock held by another process for %s", cfg.Business.SchemaLockTTL)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
