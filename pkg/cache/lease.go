package cache

import (
	"context"
	"time"

	"github.com/cuemby/binlogtap/pkg/events"
	"github.com/cuemby/binlogtap/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// The renewal interval sits 10s inside the TTL so a healthy holder always
// refreshes before the token can expire.
const (
	leaseTTL             = 60 * time.Second
	leaseRenewInterval   = 50 * time.Second
	leaseAcquirePollWait = 1 * time.Second
)

// acquireLease attempts a single non-blocking SET-if-absent-with-TTL on the
// lease key.
func acquireLease(ctx context.Context, client *redis.Client, key, token string) (bool, error) {
	return client.SetNX(ctx, key, token, leaseTTL).Result()
}

// blockUntilLeaseAcquired polls acquireLease at a fixed interval until it
// succeeds or ctx is done. journal may be nil; acquisition is recorded so
// save/dump hand-off shows up in the pipeline's lifecycle journal.
func blockUntilLeaseAcquired(ctx context.Context, client *redis.Client, key, token string, journal *events.Journal, onFailedAttempt func()) error {
	for {
		ok, err := acquireLease(ctx, client, key, token)
		if err != nil {
			return err
		}
		if ok {
			if journal != nil {
				journal.Record(events.Entry{Kind: events.KindLeaseAcquired, Detail: key})
			}
			return nil
		}
		if onFailedAttempt != nil {
			onFailedAttempt()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(leaseAcquirePollWait):
		}
	}
}

// releaseLease unconditionally deletes the lease key. A save releases it
// immediately after its work; a dump releases it once its renewal loop has
// been stopped.
func releaseLease(ctx context.Context, client *redis.Client, key string) {
	_ = client.Del(ctx, key).Err()
}

// leaseRenewer refreshes a held lease's TTL on a timer for the duration of
// a dump, and reports if a refresh ever fails to find the key, meaning the
// lease evaporated out from under the dump (backend eviction) and the dump
// must abort before any clear call.
type leaseRenewer struct {
	stopCh chan struct{}
	lostCh chan struct{}
	done   chan struct{}
}

// startLeaseRenewal begins the renewal loop. journal may be nil; when a
// refresh fails to find the key the renewer records events.KindLeaseLost
// and latches metrics.ReportLeaseLost() before returning, so /health can
// surface that a dump's lease evaporated under backend eviction.
func startLeaseRenewal(ctx context.Context, client *redis.Client, key string, journal *events.Journal) *leaseRenewer {
	r := &leaseRenewer{
		stopCh: make(chan struct{}),
		lostCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(leaseRenewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ok, err := client.Expire(ctx, key, leaseTTL).Result()
				if err != nil || !ok {
					metrics.ReportLeaseLost()
					if journal != nil {
						journal.Record(events.Entry{Kind: events.KindLeaseLost, Detail: "lease lost during renewal of " + key})
					}
					close(r.lostCh)
					return
				}
			case <-r.stopCh:
				return
			}
		}
	}()
	return r
}

// Lost reports whether the lease was detected lost since the renewer
// started.
func (r *leaseRenewer) Lost() bool {
	select {
	case <-r.lostCh:
		return true
	default:
		return false
	}
}

// Stop halts renewal and waits for the goroutine to exit.
func (r *leaseRenewer) Stop() {
	close(r.stopCh)
	<-r.done
}
