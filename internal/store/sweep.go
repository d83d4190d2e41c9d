package store

import (
	"context"
	"log"
	"time"
)

// SweepExpiredCaptures evicts temp captures older than ttl on a fixed
// interval until ctx is cancelled. The durable and in-memory backends get
// identical expiry behavior this way instead of relying on store-native
// TTL indexes. Failures are printed and the next tick tries again.
func SweepExpiredCaptures(ctx context.Context, s Store, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			n, err := s.DeleteExpiredCaptures(sweepCtx, time.Now().UTC().Add(-ttl))
			cancel()
			if err != nil {
				log.Printf("capture sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("capture sweep evicted %d expired record(s)", n)
			}
		}
	}
}
