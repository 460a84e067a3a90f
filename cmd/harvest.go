package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
	"github.com/JakeFAU/journal-harvester/internal/pipeline"
)

// newHarvestCmd creates the 'harvest' subcommand. Flags override the config
// file and HARVEST_* environment variables.
func newHarvestCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest one or more issues of a journal",
		Example: `  harvester harvest -u https://portal.example.com/journal/JWE -j jwe -y 2025 -i 6
  harvester harvest -u https://portal.example.com/journal/JWE -j jwe -y 2025 -i 1-3,5 --no-details`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, asJSON)
		},
	}

	flags := cmd.Flags()
	flags.StringP("url", "u", "", "journal portal listing URL")
	flags.StringP("journal", "j", "", "journal identifier used to key datasets")
	flags.IntP("year", "y", 0, "issue year")
	flags.StringP("issues", "i", "", `issue expression, e.g. "6", "1-3" or "1,5,7-9"`)
	flags.Bool("details", true, "fetch detail pages for abstracts")
	flags.Bool("no-details", false, "skip detail pages (fast pass)")
	flags.StringP("output", "o", "", "output path; {journal}, {year} and {issue} are expanded")
	flags.String("filtered", "", "annotator's filtered output to sanity-check")
	flags.Bool("headless", false, "enable the headless browser for script-rendered listings")
	flags.Int("max-pages", 0, "listing page limit per issue")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.BoolVar(&asJSON, "json", false, "print run results as JSON")

	bindFlag(v, cmd, "source.base_url", "url")
	bindFlag(v, cmd, "source.journal", "journal")
	bindFlag(v, cmd, "harvest.year", "year")
	bindFlag(v, cmd, "harvest.issues", "issues")
	bindFlag(v, cmd, "harvest.details", "details")
	bindFlag(v, cmd, "harvest.max_pages", "max-pages")
	bindFlag(v, cmd, "output.path", "output")
	bindFlag(v, cmd, "output.filtered_path", "filtered")
	bindFlag(v, cmd, "headless.enabled", "headless")
	bindFlag(v, cmd, "metrics.addr", "metrics-addr")
	return cmd
}

func runHarvest(cmd *cobra.Command, asJSON bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer appInstance.Close()
	logger := appInstance.Logger()

	targets := appInstance.Targets()
	results := make([]pipeline.Result, 0, len(targets))
	failed := 0
	for _, target := range targets {
		if cmd.Context().Err() != nil {
			logger.Warn("interrupted, skipping remaining issues", zap.Int("issue", target.Issue))
			failed++
			continue
		}
		res, err := appInstance.Orchestrator().Run(cmd.Context(), target)
		if err != nil {
			failed++
		}
		results = append(results, res)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
	} else {
		for _, res := range results {
			writeSummary(out, res)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d issues failed", failed, len(targets))
	}
	return nil
}

func writeSummary(w io.Writer, res pipeline.Result) {
	fmt.Fprintf(w, "%s %d/%02d: %s", res.Journal, res.Year, res.Issue, res.State)
	if res.State == harvest.StageFailed {
		fmt.Fprintf(w, " (%s)\n", res.Error)
		return
	}
	fmt.Fprintf(w, ", %d papers (%d with abstract), inserted %d, matched %d, dropped %d",
		res.Papers, res.Abstracts, res.Merge.Inserted, res.Merge.Matched, len(res.Merge.Dropped))
	if len(res.Merge.Retained) > 0 {
		fmt.Fprintf(w, ", retained %d", len(res.Merge.Retained))
	}
	if res.Unchanged {
		fmt.Fprint(w, ", unchanged")
	}
	fmt.Fprintf(w, " -> %s\n", res.Location)
	if len(res.Failures) > 0 {
		parts := make([]string, 0, len(res.Failures))
		for _, f := range res.Failures {
			parts = append(parts, fmt.Sprintf("%s/%s=%d", f.Stage, f.Cause, f.Count))
		}
		fmt.Fprintf(w, "  partial failures: %s\n", strings.Join(parts, ", "))
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}
