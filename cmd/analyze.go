package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/monitoring"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a single company website",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req, err := analyzeRequest(cmd)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		noStore, _ := cmd.Flags().GetBool("no-store")

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		start := time.Now()
		result := env.Pipeline.Run(ctx, req)
		monitoring.ObserveRequest(requestOutcome(result), time.Since(start))

		if env.Store != nil && !noStore {
			if _, err := env.Store.SaveReport(ctx, result); err != nil {
				zap.L().Warn("analyze: failed to store report", zap.Error(err))
			} else {
				zap.L().Info("analyze: report stored", zap.String("id", result.ID))
			}
		}
		if out != "" {
			if err := writeEnvelope(out, result); err != nil {
				return err
			}
		}
		return writeJSON(cmd.OutOrStdout(), result.Insights)
	},
}

func analyzeRequest(cmd *cobra.Command) (model.AnalysisRequest, error) {
	url, _ := cmd.Flags().GetString("url")
	name, _ := cmd.Flags().GetString("name")
	location, _ := cmd.Flags().GetString("location")
	dynamic, _ := cmd.Flags().GetBool("dynamic")
	deadline, _ := cmd.Flags().GetDuration("deadline")

	if strings.TrimSpace(url) == "" {
		return model.AnalysisRequest{}, eris.New("analyze: --url is required")
	}
	target, err := normalizeURL(url)
	if err != nil {
		return model.AnalysisRequest{}, eris.Wrap(err, "analyze: --url")
	}
	return model.AnalysisRequest{
		URL:         target,
		CompanyName: name,
		Location:    location,
		DynamicMain: dynamic,
		Deadline:    deadline,
	}, nil
}

func requestOutcome(a *model.Analysis) string {
	if a.Insights == nil || a.Insights.Degraded() {
		return "degraded"
	}
	return "ok"
}

// writeEnvelope saves the full scrape and insight envelope to path.
func writeEnvelope(path string, a *model.Analysis) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "analyze: create %s", path)
	}
	if err := writeJSON(f, a); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "analyze: close %s", path)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

func init() {
	analyzeCmd.Flags().String("url", "", "company website URL (required)")
	analyzeCmd.Flags().String("name", "", "company name")
	analyzeCmd.Flags().String("location", "", "company location, used to disambiguate review searches")
	analyzeCmd.Flags().Bool("dynamic", false, "render the main page in a headless browser")
	analyzeCmd.Flags().Duration("deadline", 0, "overall deadline (default from config)")
	analyzeCmd.Flags().String("out", "", "also write the full scrape and insight envelope to this file")
	analyzeCmd.Flags().Bool("no-store", false, "do not persist the report")
	rootCmd.AddCommand(analyzeCmd)
}
