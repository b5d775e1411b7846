package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gobridgeledger/ledger"
)

// operations retried per tick
const redispatchBatch = 100

// Worker_redispatch hands undispatched Pending operations to their backends every interval,
// until ctx is done. Operations stay in the outbox until a send succeeds.
func Worker_redispatch(ctx context.Context, l *ledger.Ledger, interval time.Duration, log *zap.SugaredLogger) error {
	log = log.Named("redispatch")
	log.Infow("Starting redispatch worker", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Redispatch worker stopped")
			return nil
		case <-ticker.C:
		}

		sent, err := l.Redispatch(ctx, redispatchBatch)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Errorf("Error redispatching operations: %v", err)
			continue
		}
		if sent > 0 {
			log.Infow("Redispatched operations", "count", sent)
		}
	}
}
