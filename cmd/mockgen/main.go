package main

import (
	"flag"
	"fmt"
	"os"

	"esg-mcp/cmd/mockgen/engine"
)

func main() {
	scenario := flag.String("scenario", "clean", "Scenario to generate: clean, messy, duplicate")
	distribution := flag.String("distribution", "uniform", "Distribution to use: uniform, weibull")
	outDir := flag.String("out", "./.cache", "Output directory for mock files")
	count := flag.Int("count", 5, "Number of records per metric")
	period := flag.String("period", "2024", "Reporting period written to every row")
	seed := flag.Int64("seed", 1, "Random seed")
	name := flag.String("name", "", "File name without extension (default esg_<scenario>)")
	flag.Parse()

	cfg := engine.GeneratorConfig{
		Scenario:     *scenario,
		Distribution: *distribution,
		Count:        *count,
		Period:       *period,
		Seed:         *seed,
	}

	fmt.Printf("Generating scenario '%s' (Distribution: %s, Count: %d) to %s...\n", cfg.Scenario, cfg.Distribution, cfg.Count, *outDir)

	rows := engine.Generate(cfg)

	fileName := *name
	if fileName == "" {
		fileName = "esg_" + cfg.Scenario
	}
	path, err := engine.Save(*outDir, fileName, rows)
	if err != nil {
		fmt.Printf("Failed to save mock data: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Done. %d rows written to %s\n", len(rows), path)
}
