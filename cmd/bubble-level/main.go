package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bubble-level/internal/config"
	"bubble-level/internal/web"
)

func main() {
	var configPath string
	var summarizePath string
	flag.StringVar(&configPath, "config", "./level.yaml", "Path to YAML config")
	flag.StringVar(&summarizePath, "summarize", "", "Print a summary of a recorded sample log and exit")
	flag.Parse()

	if summarizePath != "" {
		if err := printLogSummary(os.Stdout, summarizePath); err != nil {
			log.Fatalf("summarize failed: %v", err)
		}
		return
	}

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("bubble-level starting")
	log.Printf("source=%s display_rotation=%d listen=%s", cfg.Sensor.Source, cfg.Sensor.DisplayRotation, cfg.Web.Listen)

	if err := run(ctx, cfg, logs); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bubble-level failed: %v", err)
	}
	log.Printf("bubble-level stopping")
}
