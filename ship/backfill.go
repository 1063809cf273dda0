package ship

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/s-emmerson/hycast/delayq"
)

// BackfillConfig tunes the pull-missing-chunks policy a Receiver runs
// alongside the multicast feed, to recover from drops the forward-error
// correction original_source relied on and this system's distillation
// left unspecified.
type BackfillConfig struct {
	// Interval is how often the oldest missing chunk is looked up and
	// requested from the next peer in round-robin order.
	Interval time.Duration
}

const defaultBackfillInterval = 2 * time.Second

// RunBackfill scans for the oldest missing chunk on Interval and requests
// it from a peer chosen round-robin from the currently registered set,
// rescheduling itself via delayq until ctx is canceled. Unlike the
// single-shot retry the original bolts onto each request, this loop keeps
// re-evaluating what's missing rather than retrying a fixed chunk, since a
// chunk found complete by the multicast feed in the meantime needs no
// further retry.
func (r *Receiver) RunBackfill(ctx context.Context, cfg BackfillConfig) error {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultBackfillInterval
	}
	q := delayq.New[struct{}]()
	q.Push(struct{}{}, 0)

	var next uint64
	for {
		if _, err := q.Pop(ctx); err != nil {
			return err
		}

		missing := r.store.GetOldestMissingChunk()
		if !missing.IsZero() {
			peers := r.Peers()
			if len(peers) > 0 {
				target := peers[next%uint64(len(peers))]
				next++
				if err := target.SendChunkRequest(missing); err != nil {
					log.Warn().Err(err).Stringer("peer", target).Msg("backfill request failed")
				}
			}
		}

		q.Push(struct{}{}, cfg.Interval)
	}
}
