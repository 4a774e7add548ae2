package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/tripnest/booking-payments/internal/bootstrap"
	"github.com/tripnest/booking-payments/internal/config"
	"github.com/tripnest/booking-payments/pkg/logger"
)

// withApp loads configuration, connects, and hands the wired app to fn
func withApp(ctx context.Context, fn func(app *bootstrap.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: "console", Output: "stderr"})
	if err != nil {
		return err
	}
	defer log.Sync()

	app, err := bootstrap.New(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(app)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
