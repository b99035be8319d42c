package main

import (
	"fmt"

	"stock-ledger/internal/store"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rc := openRedis()
		if rc != nil {
			defer rc.Close()
		}
		if err := ensureSchema(ctx, st, rc); err != nil {
			return err
		}

		version, err := st.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema %s at version %d\n", store.SchemaInitialized, version)
		return nil
	},
}
