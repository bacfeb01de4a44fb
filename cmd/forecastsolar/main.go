package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"

	"github.com/solarcast/forecastsolar/pkg/forecastsolar"
	"github.com/solarcast/forecastsolar/pkg/log"
	"github.com/solarcast/forecastsolar/pkg/server"
)

func main() {
	// init packages
	c := forecastsolar.Configured()

	// init server
	srv := server.Configured(c)

	command := lflag.String("command", "serve", "What to do: serve, estimate, check or info")

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog()
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)
	slog.SetDefault(log.Ctx(context.Background()))
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var out any
	switch *command {
	case "serve":
		// Run will block until context is canceled or error happens
		if err := srv.Run(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
			os.Exit(1)
		}
		log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
		return
	case "estimate":
		est, err := c.Estimate(ctx)
		if err != nil {
			fail(ctx, err)
		}
		out = est.Summary()
	case "check":
		ok, err := c.ValidatePlane(ctx)
		if err != nil {
			fail(ctx, err)
		}
		out = map[string]bool{"valid": ok}
	case "info":
		ok, err := c.ValidateAPIKey(ctx)
		if err != nil {
			fail(ctx, err)
		}
		rl, _ := c.RateLimit()
		out = struct {
			Valid     bool                    `json:"valid"`
			RateLimit forecastsolar.RateLimit `json:"rateLimit"`
		}{ok, rl}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %q\n", *command)
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fail(ctx, err)
	}
}

func fail(ctx context.Context, err error) {
	log.Ctx(ctx).ErrorContext(ctx, "command failed", errorAttrs(err)...)
	os.Exit(1)
}

// errorAttrs only names the kind for classified forecast.solar errors.
func errorAttrs(err error) []any {
	attrs := []any{slog.Any("error", err)}
	if kind := forecastsolar.KindOf(err); kind != 0 {
		attrs = append(attrs, slog.String("kind", kind.String()))
	}
	return attrs
}
