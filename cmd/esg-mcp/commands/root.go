package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"esg-mcp/internal/config"
	"esg-mcp/internal/logging"
	"esg-mcp/internal/mcp"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version, Commit, and BuildDate are set at build time via ldflags.
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	verbose bool
	output  string
	cfg     *config.AppConfig
	tuning  config.Tuning
)

var rootCmd = &cobra.Command{
	Use:   "esg-mcp",
	Short: "ESG-MCP maps ESG disclosures to a KPI taxonomy and checks them against reporting frameworks",
	Long: `An MCP Server and CLI that ingests ESG disclosure spreadsheets, maps their free-text labels to a
canonical KPI taxonomy, converts units, keeps running totals across files and scores coverage
against ISSB, GRI, CSRD and TCFD.

Without a subcommand the MCP server runs on stdio.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Init(logging.Options{Verbose: verbose}); err != nil {
			return err
		}

		var err error
		if cfg, err = config.Load(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if tuning, err = config.LoadTuning(cfg.TuningFile); err != nil {
			return fmt.Errorf("failed to load tuning: %w", err)
		}

		log.Info().
			Str("version", Version).
			Str("commit", Commit).
			Str("buildDate", BuildDate).
			Str("store", cfg.StoreBackend).
			Bool("gemini", cfg.Gemini.APIKey != "").
			Msg("ESG-MCP starting")
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		log.Info().Msg("MCP Server starting Stdio loop")
		server := mcp.NewServer(cfg, mcp.Deps{
			Orchestrator:    a.orch,
			Matcher:         a.matcher,
			Units:           a.units,
			Scorer:          a.scorer,
			AcceptThreshold: tuning.Pipeline.AcceptThreshold,
		})
		return server.Serve(ctx, Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format: table or json")
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(processCmd, convertCmd, totalsCmd, complianceCmd, filesCmd, removeCmd, reviewCmd, frameworksCmd)
}
