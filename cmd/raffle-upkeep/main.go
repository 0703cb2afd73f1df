// raffle-upkeep is a standalone upkeep trigger: it polls the raffled HTTP
// API and requests a round transition whenever the raffle reports one is
// due. It is deliberately dumb and untrusted; the raffle re-checks every
// precondition server-side.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openraffle/raffled/internal/raffleapi"
	"github.com/openraffle/raffled/internal/secrets"
)

func main() {
	var (
		apiURL       = flag.String("api-url", "", "raffled base URL (required)")
		pollInterval = flag.Duration("poll-interval", 2*time.Second, "upkeep poll interval")
		timeout      = flag.Duration("request-timeout", 10*time.Second, "per-request timeout")

		authTokenSource = flag.String("auth-token-source", secrets.SourceEnv, "API bearer token source (none|env|aws)")
		authTokenKey    = flag.String("auth-token-key", "RAFFLE_API_AUTH_TOKEN", "env var name or secret id holding the API bearer token")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *apiURL == "" {
		fmt.Fprintln(os.Stderr, "error: --api-url is required")
		os.Exit(2)
	}
	if *pollInterval <= 0 || *timeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: durations must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []raffleapi.ClientOption{
		raffleapi.WithHTTPClient(&http.Client{Timeout: *timeout}),
	}
	token, err := secrets.Resolve(ctx, *authTokenSource, *authTokenKey)
	if err != nil && !errors.Is(err, secrets.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "error: resolve api auth token: %v\n", err)
		os.Exit(2)
	}
	if token != "" {
		opts = append(opts, raffleapi.WithAuthToken(token))
	}
	client, err := raffleapi.NewClient(*apiURL, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	log.Info("raffle-upkeep started", "api", *apiURL, "pollInterval", pollInterval.String())

	t := time.NewTicker(*pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown", "reason", ctx.Err())
			return
		case <-t.C:
			needed, err := client.CheckUpkeep(ctx)
			if err != nil {
				log.Error("check upkeep", "err", err)
				continue
			}
			if !needed {
				continue
			}

			requestID, err := client.PerformUpkeep(ctx)
			if err != nil {
				// Another trigger may have won the race; both outcomes are fine.
				if errors.Is(err, raffleapi.ErrUpkeepNotNeeded) {
					log.Info("upkeep already performed elsewhere")
					continue
				}
				log.Error("perform upkeep", "err", err)
				continue
			}
			log.Info("upkeep performed", "requestId", requestID)
		}
	}
}
