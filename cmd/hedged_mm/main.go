package main

import (
	"flag"
	"fmt"
	"os"

	"hedged_mm/internal/bootstrap"
	"hedged_mm/internal/config"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional dotenv file loaded before the config is expanded")
	mode := flag.String("mode", "", "Run mode: all, maker or hedge (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("hedged_mm version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfigForMode(*configPath, *mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	app.Logger.Info("Starting hedged_mm",
		"version", version,
		"mode", cfg.App.Mode,
		"ticker", cfg.TradingParams().Ticker,
	)
	app.Logger.Debug("Effective configuration", "config", cfg.String())

	if err := app.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "hedged_mm exited: %v\n", err)
		os.Exit(1)
	}
}
