package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"stock-ledger/internal/service"
	"stock-ledger/internal/valuation"

	"github.com/spf13/cobra"
)

var valueJSON bool

var valueCmd = &cobra.Command{
	Use:   "value",
	Short: "Print the current inventory valuation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := ensureSchema(ctx, st, nil); err != nil {
			return err
		}

		svc := service.NewValuationService(st, nil, 0, cfg.Business.AlertPeriodDays,
			valuation.WithExcludedNames(cfg.Business.ExcludedNames...))
		report, err := svc.Compute(ctx)
		if err != nil {
			return err
		}
		return writeReport(cmd.OutOrStdout(), report, valueJSON)
	},
}

func init() {
	valueCmd.Flags().BoolVar(&valueJSON, "json", false, "print the full report as JSON")
}

func writeReport(w io.Writer, report *valuation.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tQTY\tPRICE\tVALUE")
	for _, row := range report.Rows {
		price, value := "-", "-"
		if row.Price != nil {
			price = fmt.Sprintf("%d", *row.Price)
		}
		if row.TotalValue != nil {
			value = row.TotalValue.String()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", row.Name, row.TotalQty, price, value)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nGrand total: %s\n", report.GrandTotal.String())
	for _, a := range report.Anomalies {
		fmt.Fprintf(w, "warning: %s excluded (%s, quantity %d)\n", a.Name, a.Kind, a.TotalQty)
	}
	return nil
}
