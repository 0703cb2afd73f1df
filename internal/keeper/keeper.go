// Package keeper is the in-process flavor of the external upkeep trigger:
// a tick loop that evaluates the raffle's upkeep predicate and performs the
// round transition when it is due.
//
// The keeper is deliberately untrusted by the core. It may fire redundantly,
// too early, or not at all; the raffle's own precondition re-check is what
// keeps the transition safe.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/openraffle/raffled/internal/raffle"
)

var ErrInvalidConfig = errors.New("keeper: invalid config")

// Upkeep is the surface the keeper drives.
type Upkeep interface {
	CheckUpkeep(ctx context.Context) (bool, raffle.UpkeepDiagnostic)
	PerformUpkeep(ctx context.Context) (uint64, error)
}

type Config struct {
	// StallWarnAfter logs a warning when the raffle has been calculating
	// longer than this. There is no recovery path; a stuck oracle pins the
	// round until it responds.
	StallWarnAfter time.Duration

	Now func() time.Time
}

type Keeper struct {
	cfg     Config
	upkeep  Upkeep
	elector *LeaderElector

	log *slog.Logger

	calculatingSince time.Time
	stallWarned      bool
}

func New(cfg Config, upkeep Upkeep, log *slog.Logger) (*Keeper, error) {
	if upkeep == nil {
		return nil, fmt.Errorf("%w: nil upkeep", ErrInvalidConfig)
	}
	if cfg.StallWarnAfter < 0 {
		return nil, fmt.Errorf("%w: StallWarnAfter must be >= 0", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Keeper{cfg: cfg, upkeep: upkeep, log: log}, nil
}

// WithLeaderElector restricts upkeep to the lease holder.
func (k *Keeper) WithLeaderElector(e *LeaderElector) *Keeper {
	k.elector = e
	return k
}

// Tick performs one trigger iteration. It never returns an error for "not
// needed" outcomes; those are the common case.
func (k *Keeper) Tick(ctx context.Context) error {
	if k.elector != nil {
		leader, err := k.elector.Tick(ctx)
		if err != nil {
			return fmt.Errorf("keeper: leader election: %w", err)
		}
		if !leader {
			return nil
		}
	}

	needed, diag := k.upkeep.CheckUpkeep(ctx)
	k.trackStall(diag)
	if !needed {
		return nil
	}

	requestID, err := k.upkeep.PerformUpkeep(ctx)
	if err != nil {
		// Lost the race between check and perform; another trigger won.
		var notNeeded *raffle.UpkeepNotNeededError
		if errors.As(err, &notNeeded) {
			k.log.Debug("upkeep no longer needed",
				"state", notNeeded.State,
				"players", notNeeded.PlayerCount,
				"balance", notNeeded.Balance.String(),
			)
			return nil
		}
		return fmt.Errorf("keeper: perform upkeep: %w", err)
	}

	k.log.Info("upkeep performed", "requestId", requestID)
	return nil
}

func (k *Keeper) trackStall(diag raffle.UpkeepDiagnostic) {
	if diag.State != raffle.StateCalculating {
		k.calculatingSince = time.Time{}
		k.stallWarned = false
		return
	}

	now := k.cfg.Now()
	if k.calculatingSince.IsZero() {
		k.calculatingSince = now
		return
	}
	if k.cfg.StallWarnAfter <= 0 || k.stallWarned {
		return
	}
	if now.Sub(k.calculatingSince) >= k.cfg.StallWarnAfter {
		k.log.Warn("raffle pinned in calculating; oracle has not responded",
			"since", k.calculatingSince.UTC(),
			"waited", now.Sub(k.calculatingSince).String(),
		)
		k.stallWarned = true
	}
}
