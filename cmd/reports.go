package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/insight-cli/internal/monitoring"
	"github.com/sells-group/insight-cli/internal/store"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Inspect stored insight reports",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored reports, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := reportFilter(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reports, err := st.ListReports(ctx, filter)
		if err != nil {
			return err
		}
		return printReportTable(cmd.OutOrStdout(), reports)
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one stored report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		asYAML, _ := cmd.Flags().GetBool("yaml")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep, err := st.GetReport(ctx, args[0])
		if err != nil {
			return err
		}
		if asYAML {
			return writeYAML(cmd.OutOrStdout(), rep)
		}
		return writeJSON(cmd.OutOrStdout(), rep.Analysis)
	},
}

var reportsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize stored reports and evaluate quality alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		snap, err := monitoring.NewCollector(st).Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return err
		}
		alerts := monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap)

		w := cmd.OutOrStdout()
		printStats(w, stats, snap)
		for _, a := range alerts {
			fmt.Fprintf(w, "ALERT [%s] %s\n", a.Severity, a.Message) //nolint:errcheck
		}
		return nil
	},
}

func openStore(cmd *cobra.Command) (store.Store, error) {
	st, err := store.Open(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("reports: store.driver is \"none\"")
	}
	return st, nil
}

func reportFilter(cmd *cobra.Command) (store.ReportFilter, error) {
	company, _ := cmd.Flags().GetString("company")
	degraded, _ := cmd.Flags().GetBool("degraded")
	limit, _ := cmd.Flags().GetInt("limit")
	since, _ := cmd.Flags().GetDuration("since")

	if limit < 0 {
		return store.ReportFilter{}, eris.New("reports: --limit must not be negative")
	}
	f := store.ReportFilter{
		CompanyURL:   company,
		DegradedOnly: degraded,
		Limit:        limit,
	}
	if since > 0 {
		f.Since = time.Now().Add(-since)
	}
	return f, nil
}

func printReportTable(w io.Writer, reports []store.ReportSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tURL\tCOMPANY\tDEGRADED\tERRORS\tCREATED") //nolint:errcheck
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%s\n", //nolint:errcheck
			r.ID, r.URL, dash(r.CompanyName), r.Degraded, r.ErrorCount,
			r.CreatedAt.UTC().Format(time.RFC3339))
	}
	return eris.Wrap(tw.Flush(), "reports: flush table")
}

func printStats(w io.Writer, stats *store.Stats, snap *monitoring.Snapshot) {
	fmt.Fprintf(w, "Reports:    %d\n", stats.Total)     //nolint:errcheck
	fmt.Fprintf(w, "Degraded:   %d\n", stats.Degraded)  //nolint:errcheck
	fmt.Fprintf(w, "Companies:  %d\n", stats.Companies) //nolint:errcheck
	if stats.Latest != nil {
		fmt.Fprintf(w, "Latest:     %s\n", stats.Latest.UTC().Format(time.RFC3339)) //nolint:errcheck
	}
	if snap != nil {
		fmt.Fprintf(w, "Last %dh:    %d reports, %.0f%% degraded, %.1f avg errors\n", //nolint:errcheck
			snap.LookbackHours, snap.Reports, snap.DegradedRate*100, snap.AvgErrors)
	}
}

// writeYAML renders v as YAML using its JSON field names and order.
func writeYAML(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "encode yaml")
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return eris.Wrap(err, "encode yaml")
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return eris.Wrap(err, "encode yaml")
	}
	return eris.Wrap(enc.Close(), "encode yaml")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	reportsListCmd.Flags().String("company", "", "only reports for this company URL")
	reportsListCmd.Flags().Bool("degraded", false, "only degraded reports")
	reportsListCmd.Flags().Int("limit", 50, "maximum number of reports")
	reportsListCmd.Flags().Duration("since", 0, "only reports newer than this (e.g. 24h)")
	reportsShowCmd.Flags().Bool("yaml", false, "print as YAML")

	reportsCmd.AddCommand(reportsListCmd, reportsShowCmd, reportsStatsCmd)
	rootCmd.AddCommand(reportsCmd)
}
