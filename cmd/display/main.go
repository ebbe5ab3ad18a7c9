package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"beat-hard/server/internal/combat"
	"beat-hard/server/internal/display"
	"beat-hard/server/internal/telemetry"
)

func main() {
	url := flag.String("url", display.DefaultURL, "broadcast channel to subscribe to")
	reconnect := flag.Bool("reconnect", false, "redial with backoff when the channel drops")
	flag.Parse()

	logger := log.New(os.Stdout, "[display] ", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirror := display.NewMirror(combat.DefaultConfig())

	var last string
	sweeper := display.NewSweeper(mirror, display.SweeperConfig{
		Render: func(view display.View) {
			encoded, err := json.Marshal(view)
			if err != nil {
				logger.Printf("failed to encode %s view: %v", view.Name, err)
				return
			}
			if string(encoded) == last {
				return
			}
			last = string(encoded)
			logger.Printf("render %s %s", view.Name, encoded)
		},
	})
	sweeper.Start()
	defer sweeper.Stop()

	client := display.NewClient(mirror, display.ClientConfig{
		URL:       *url,
		Reconnect: *reconnect,
		Logger:    telemetry.WrapLogger(logger),
	})
	if err := client.Run(ctx); err != nil {
		logger.Printf("display stopped: %v", err)
		sweeper.Stop()
		os.Exit(1)
	}
}
