package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"esg-mcp/internal/compliance"
	"esg-mcp/internal/store"
	"esg-mcp/internal/taxonomy"
	"esg-mcp/internal/units"

	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert <value> <from-unit> <to-unit>",
	Short: "Convert a value between units",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseFloat(strings.ReplaceAll(args[0], ",", ""), 64)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[0], err)
		}
		reg, err := units.LoadDefault()
		if err != nil {
			return err
		}
		res := reg.Convert(v, args[1], args[2])
		return emit(cmd.OutOrStdout(), output, res, func(w io.Writer) { renderConversion(w, v, res) })
	},
}

var totalsCmd = &cobra.Command{
	Use:   "totals [kpi-id]",
	Short: "Show running totals across all processed files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var totals []store.CumulativeKPI
		if len(args) == 1 {
			c, err := a.store.GetCumulative(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("no running total for %q: %w", args[0], err)
			}
			totals = []store.CumulativeKPI{*c}
		} else if totals, err = a.store.ListCumulative(cmd.Context()); err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), output, totals, func(w io.Writer) { renderTotals(w, totals) })
	},
}

var complianceStandard string

var complianceCmd = &cobra.Command{
	Use:   "compliance <period>",
	Short: "Score the completed files of a period against a framework",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orch.CheckCompliance(cmd.Context(), args[0], complianceStandard)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), output, res, func(w io.Writer) { renderCompliance(w, res) })
	},
}

var (
	filesPeriod string
	filesStatus string
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List processed files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := a.store.ListFiles(cmd.Context(), store.FileFilter{
			Period: filesPeriod,
			Status: store.FileStatus(strings.ToUpper(filesStatus)),
		})
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), output, files, func(w io.Writer) { renderFiles(w, files) })
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <file-id>",
	Short: "Remove a file and subtract its contributions from the running totals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid file id %q", args[0])
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orch.RemoveFile(cmd.Context(), id)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), output, res, func(w io.Writer) {
			_, _ = fmt.Fprintf(w, "File %d removed, %d total(s) reduced\n", res.FileID, len(res.Reversals))
			for _, r := range res.Reversals {
				_, _ = fmt.Fprintf(w, "  %s: -%s (now %s)\n", r.KPIID, formatNumber(r.Value), formatNumber(r.Remaining))
			}
		})
	},
}

var reviewReject bool

var reviewCmd = &cobra.Command{
	Use:   "review <file-id> <raw-label>",
	Short: "Approve (default) or reject the KPI mapping of one label",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid file id %q", args[0])
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orch.ReviewMapping(cmd.Context(), id, args[1], !reviewReject)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), output, res, func(w io.Writer) {
			_, _ = fmt.Fprintf(w, "%q -> %s: %s\n", res.Mapping.RawLabel, res.Mapping.KPIID, res.Mapping.Review)
			if res.Reversal != nil {
				_, _ = fmt.Fprintf(w, "  %s reduced by %s\n", res.Reversal.KPIID, formatNumber(res.Reversal.Value))
			}
			if res.Compliance != nil {
				renderCompliance(w, res.Compliance)
			}
		})
	},
}

var frameworksCmd = &cobra.Command{
	Use:   "frameworks",
	Short: "List supported frameworks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tax, err := taxonomy.LoadDefault()
		if err != nil {
			return err
		}
		fw, err := compliance.LoadDefault(tax)
		if err != nil {
			return err
		}
		list := fw.List()
		return emit(cmd.OutOrStdout(), output, list, func(w io.Writer) { renderFrameworks(w, list) })
	},
}

func init() {
	complianceCmd.Flags().StringVar(&complianceStandard, "standard", "", "framework id (default from DEFAULT_STANDARD)")
	filesCmd.Flags().StringVar(&filesPeriod, "period", "", "only files of this period")
	filesCmd.Flags().StringVar(&filesStatus, "status", "", "only files with this status")
	reviewCmd.Flags().BoolVar(&reviewReject, "reject", false, "reject the mapping and reverse its contribution")
}
