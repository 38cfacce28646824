package commands

import (
	"fmt"
	"path/filepath"

	"esg-mcp/internal/ingest"
	"esg-mcp/internal/pipeline"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	processPeriod   string
	processStandard string
	processSheet    string
)

var processCmd = &cobra.Command{
	Use:   "process <file>...",
	Short: "Ingest CSV or XLSX disclosures and add them to the running totals",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		// 1. Read every file up front so a typo fails before anything is written
		inputs := make([]pipeline.FileInput, 0, len(args))
		for _, path := range args {
			tbl, err := ingest.ReadFile(path, ingest.Options{Sheet: processSheet})
			if err != nil {
				return err
			}
			inputs = append(inputs, pipeline.FileInput{
				Name:     filepath.Base(path),
				Period:   processPeriod,
				Standard: processStandard,
				Table:    tbl,
				Mapping:  ingest.DetectMapping(tbl.Columns),
			})
		}

		// 2. Process concurrently; one failure does not stop the others
		outcomes := a.orch.ProcessFiles(cmd.Context(), inputs)

		out := cmd.OutOrStdout()
		if output == "json" {
			return renderJSON(out, outcomes)
		}
		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				_, _ = fmt.Fprintf(out, "File %q failed: %v\n", o.Input, o.Err)
				continue
			}
			renderFileResult(out, o.Result, tuning.Pipeline.AcceptThreshold)
		}
		if failed > 0 {
			log.Warn().Int("failed", failed).Int("total", len(outcomes)).Msg("Some files failed")
			return fmt.Errorf("%d of %d file(s) failed", failed, len(outcomes))
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processPeriod, "period", "", "reporting period (derived from the data when empty)")
	processCmd.Flags().StringVar(&processStandard, "standard", "", "framework to check against (default from DEFAULT_STANDARD)")
	processCmd.Flags().StringVar(&processSheet, "sheet", "", "worksheet of XLSX files")
}
