package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/zapdeskhq/zapdesk/internal/config"
	"github.com/zapdeskhq/zapdesk/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "path to zapdesk.toml (optional)")
	dataFlag := flag.String("data", "", "data directory (overrides config)")
	addrFlag := flag.String("addr", "", "http listen address (overrides config)")
	flag.Parse()

	// Optional .env for deployment overrides; missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *dataFlag != "" {
		cfg.Data.Dir = *dataFlag
	}
	if *addrFlag != "" {
		cfg.HTTP.Addr = *addrFlag
	}
	if env := os.Getenv("ZAPDESK_ADDR"); env != "" && *addrFlag == "" {
		cfg.HTTP.Addr = env
	}
	if env := os.Getenv("ZAPDESK_DATA_DIR"); env != "" && *dataFlag == "" {
		cfg.Data.Dir = env
	}

	app := fx.New(
		daemon.Module(cfg),
	)

	app.Run()
}
