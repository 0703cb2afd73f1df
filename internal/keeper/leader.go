package keeper

import (
	"context"
	"fmt"
	"time"

	"github.com/openraffle/raffled/internal/leases"
)

// LeaderElector gives "single active keeper" semantics over a shared lease
// store. Call Tick each iteration; it reports whether this instance holds
// the lease.
type LeaderElector struct {
	store leases.Store
	name  string
	owner string
	ttl   time.Duration
}

func NewLeaderElector(store leases.Store, leaseName, owner string, ttl time.Duration) (*LeaderElector, error) {
	if store == nil || leaseName == "" || owner == "" || ttl <= 0 {
		return nil, fmt.Errorf("%w: invalid leader elector config", ErrInvalidConfig)
	}
	return &LeaderElector{
		store: store,
		name:  leaseName,
		owner: owner,
		ttl:   ttl,
	}, nil
}

// Tick renews leadership if held, otherwise tries to acquire it.
func (l *LeaderElector) Tick(ctx context.Context) (bool, error) {
	if _, ok, err := l.store.Renew(ctx, l.name, l.owner, l.ttl); err == nil && ok {
		return true, nil
	}

	_, ok, err := l.store.TryAcquire(ctx, l.name, l.owner, l.ttl)
	if err != nil {
		return false, err
	}
	return ok, nil
}
