package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openraffle/raffled/internal/events"
	"github.com/openraffle/raffled/internal/history"
	historypg "github.com/openraffle/raffled/internal/history/postgres"
	"github.com/openraffle/raffled/internal/keeper"
	"github.com/openraffle/raffled/internal/leases"
	leasespg "github.com/openraffle/raffled/internal/leases/postgres"
	"github.com/openraffle/raffled/internal/raffle"
	"github.com/openraffle/raffled/internal/raffleapi"
	"github.com/openraffle/raffled/internal/secrets"
	"github.com/openraffle/raffled/internal/vault"
	vaultpg "github.com/openraffle/raffled/internal/vault/postgres"
	"github.com/openraffle/raffled/internal/vrf"
)

func main() {
	var (
		entranceFeeWei = flag.String("entrance-fee-wei", "", "entrance fee in wei (required)")
		interval       = flag.Duration("interval", 30*time.Second, "minimum time between rounds")

		keyHashHex      = flag.String("vrf-key-hash", "", "VRF gas lane key hash (32-byte hex, required)")
		subscriptionID  = flag.Uint64("vrf-subscription-id", 0, "VRF subscription id (required)")
		confirmations   = flag.Uint("vrf-confirmations", 3, "VRF request confirmations")
		callbackGas     = flag.Uint64("vrf-callback-gas-limit", 500_000, "VRF callback gas limit")
		oracleDelay     = flag.Duration("oracle-delay", 3*time.Second, "simulated oracle response delay (mock coordinator)")

		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (empty: in-memory stores)")

		eventsDriver  = flag.String("events-driver", events.DriverStdio, "events producer driver (kafka|stdio)")
		eventsBrokers = flag.String("events-brokers", "", "comma-separated kafka brokers")
		eventsTopic   = flag.String("events-topic", "raffle.events", "events topic")

		receiptsDriver = flag.String("receipts-driver", history.ReceiptDriverMemory, "settlement receipt driver (s3|memory)")
		receiptsBucket = flag.String("receipts-bucket", "", "S3 bucket for settlement receipts")
		receiptsPrefix = flag.String("receipts-prefix", "", "key prefix for settlement receipts")

		tickInterval   = flag.Duration("tick-interval", 1*time.Second, "keeper tick interval")
		stallWarnAfter = flag.Duration("calc-stall-warn", 5*time.Minute, "warn when calculating longer than this")

		leaderElection = flag.Bool("leader-election", false, "enable keeper leader election via lease")
		leaseName      = flag.String("leader-lease-name", "raffle-keeper", "lease name for leader election")
		leaseTTL       = flag.Duration("leader-lease-ttl", 15*time.Second, "leader lease TTL")
		owner          = flag.String("owner", "", "unique keeper owner id (required with --leader-election)")

		devCredits = flag.String("dev-credit", "", "comma-separated addr:wei balances to seed (memory vault only)")

		listenAddr      = flag.String("listen", ":8080", "HTTP listen address")
		authTokenSource = flag.String("auth-token-source", secrets.SourceEnv, "API bearer token source (none|env|aws)")
		authTokenKey    = flag.String("auth-token-key", "RAFFLE_API_AUTH_TOKEN", "env var name or secret id holding the API bearer token")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	fee, ok := new(big.Int).SetString(strings.TrimSpace(*entranceFeeWei), 10)
	if !ok || fee.Sign() <= 0 {
		fmt.Fprintln(os.Stderr, "error: --entrance-fee-wei is required and must be a positive decimal")
		os.Exit(2)
	}
	keyHash, err := parseKeyHash(*keyHashHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: --vrf-key-hash: %v\n", err)
		os.Exit(2)
	}
	if *subscriptionID == 0 {
		fmt.Fprintln(os.Stderr, "error: --vrf-subscription-id is required")
		os.Exit(2)
	}
	if *interval <= 0 || *tickInterval <= 0 || *oracleDelay < 0 {
		fmt.Fprintln(os.Stderr, "error: durations must be > 0")
		os.Exit(2)
	}
	if *confirmations == 0 || *confirmations > 200 {
		fmt.Fprintln(os.Stderr, "error: --vrf-confirmations must be in [1,200]")
		os.Exit(2)
	}
	if *callbackGas == 0 || *callbackGas > uint64(^uint32(0)) {
		fmt.Fprintln(os.Stderr, "error: --vrf-callback-gas-limit must be > 0 and fit uint32")
		os.Exit(2)
	}
	if *leaderElection && *owner == "" {
		fmt.Fprintln(os.Stderr, "error: --owner is required with --leader-election")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if *postgresDSN != "" {
		pool, err = pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()
	}

	// Vault.
	var funds vault.Vault
	var memVault *vault.MemoryVault
	if pool != nil {
		pgVault, err := vaultpg.New(pool)
		if err != nil {
			log.Error("init vault store", "err", err)
			os.Exit(2)
		}
		if err := pgVault.EnsureSchema(ctx); err != nil {
			log.Error("ensure vault schema", "err", err)
			os.Exit(2)
		}
		funds = pgVault
	} else {
		memVault = vault.NewMemoryVault()
		funds = memVault
	}
	if *devCredits != "" {
		if memVault == nil {
			fmt.Fprintln(os.Stderr, "error: --dev-credit requires the in-memory vault")
			os.Exit(2)
		}
		if err := seedCredits(memVault, *devCredits); err != nil {
			fmt.Fprintf(os.Stderr, "error: --dev-credit: %v\n", err)
			os.Exit(2)
		}
	}

	// Round history.
	var rounds history.Store
	if pool != nil {
		pgRounds, err := historypg.New(pool)
		if err != nil {
			log.Error("init history store", "err", err)
			os.Exit(2)
		}
		if err := pgRounds.EnsureSchema(ctx); err != nil {
			log.Error("ensure history schema", "err", err)
			os.Exit(2)
		}
		rounds = pgRounds
	} else {
		rounds = history.NewMemoryStore()
	}

	receiptCfg := history.ReceiptConfig{
		Driver: *receiptsDriver,
		Prefix: *receiptsPrefix,
		Bucket: *receiptsBucket,
	}
	if strings.EqualFold(*receiptsDriver, history.ReceiptDriverS3) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Error("load aws config", "err", err)
			os.Exit(2)
		}
		receiptCfg.S3Client = s3.NewFromConfig(awsCfg)
	}
	receipts, err := history.NewReceiptStore(receiptCfg)
	if err != nil {
		log.Error("init receipt store", "err", err)
		os.Exit(2)
	}

	recorder, err := history.NewRecorder(rounds)
	if err != nil {
		log.Error("init recorder", "err", err)
		os.Exit(2)
	}
	recorder.WithReceipts(receipts)

	// Events.
	producer, err := events.NewProducer(events.ProducerConfig{
		Driver:  *eventsDriver,
		Brokers: events.SplitCommaList(*eventsBrokers),
	})
	if err != nil {
		log.Error("init events producer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = producer.Close() }()

	publisher, err := events.NewPublisher(producer, *eventsTopic, time.Now)
	if err != nil {
		log.Error("init events publisher", "err", err)
		os.Exit(2)
	}

	// Core.
	coordinator := vrf.NewMockCoordinator()
	r, err := raffle.New(raffle.Config{
		EntranceFee:          fee,
		Interval:             *interval,
		KeyHash:              keyHash,
		SubscriptionID:       *subscriptionID,
		RequestConfirmations: uint16(*confirmations),
		CallbackGasLimit:     uint32(*callbackGas),
		Now:                  time.Now,
	}, funds, coordinator, publisher, log)
	if err != nil {
		log.Error("init raffle", "err", err)
		os.Exit(2)
	}
	r.WithRecorder(recorder)

	// Keeper.
	k, err := keeper.New(keeper.Config{
		StallWarnAfter: *stallWarnAfter,
		Now:            time.Now,
	}, r, log)
	if err != nil {
		log.Error("init keeper", "err", err)
		os.Exit(2)
	}
	if *leaderElection {
		var leaseStore leases.Store
		if pool != nil {
			pgLeases, err := leasespg.New(pool)
			if err != nil {
				log.Error("init lease store", "err", err)
				os.Exit(2)
			}
			if err := pgLeases.EnsureSchema(ctx); err != nil {
				log.Error("ensure lease schema", "err", err)
				os.Exit(2)
			}
			leaseStore = pgLeases
		} else {
			leaseStore = leases.NewMemoryStore(time.Now)
		}
		elector, err := keeper.NewLeaderElector(leaseStore, *leaseName, *owner, *leaseTTL)
		if err != nil {
			log.Error("init leader elector", "err", err)
			os.Exit(2)
		}
		k.WithLeaderElector(elector)
	}

	// HTTP API.
	authToken, err := secrets.Resolve(ctx, *authTokenSource, *authTokenKey)
	if err != nil {
		if !errors.Is(err, secrets.ErrNotFound) {
			log.Error("resolve api auth token", "err", err)
			os.Exit(2)
		}
		log.Warn("api auth token not set; mutating routes are unauthenticated", "key", *authTokenKey)
	}
	handler, err := raffleapi.NewHandler(r, raffleapi.Config{
		AuthToken: authToken,
	})
	if err != nil {
		log.Error("init api handler", "err", err)
		os.Exit(2)
	}
	server := &http.Server{
		Addr:              *listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	log.Info("raffled started",
		"entranceFeeWei", fee.String(),
		"interval", interval.String(),
		"subscriptionId", *subscriptionID,
		"eventsDriver", *eventsDriver,
		"listen", *listenAddr,
		"postgres", pool != nil,
	)

	// Simulated oracle latency for the mock coordinator.
	var pendingID uint64
	var pendingSince time.Time

	t := time.NewTicker(*tickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown", "reason", ctx.Err())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
			return
		case err := <-serverErr:
			log.Error("http server", "err", err)
			os.Exit(1)
		case <-t.C:
			if err := k.Tick(ctx); err != nil {
				log.Error("keeper tick", "err", err)
			}

			id := r.OutstandingRequestID()
			if id == 0 {
				pendingID, pendingSince = 0, time.Time{}
				continue
			}
			if id != pendingID {
				pendingID, pendingSince = id, time.Now()
				continue
			}
			if time.Since(pendingSince) < *oracleDelay {
				continue
			}
			if err := coordinator.FulfillRequest(ctx, id, r); err != nil {
				log.Error("fulfill randomness request", "requestId", id, "err", err)
			}
		}
	}
}

func parseKeyHash(v string) ([32]byte, error) {
	var out [32]byte
	v = strings.TrimPrefix(strings.TrimSpace(v), "0x")
	if v == "" {
		return out, errors.New("required")
	}
	b, err := hex.DecodeString(v)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func seedCredits(v *vault.MemoryVault, spec string) error {
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 || !common.IsHexAddress(parts[0]) {
			return fmt.Errorf("malformed entry %q (want addr:wei)", entry)
		}
		amount, ok := new(big.Int).SetString(parts[1], 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("malformed amount in %q", entry)
		}
		if err := v.Credit(common.HexToAddress(parts[0]), amount); err != nil {
			return err
		}
	}
	return nil
}
