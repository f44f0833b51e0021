package service

import (
	"context"
	"sync"
	"time"

	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
)

// shardedDonationTx serializes transitions per donation id without a single
// global lock: operations are distributed across N mutex shards by a hash of
// the id, so unrelated donations never contend. The durable store's version
// check still guards against writers in other processes.
const numDonationShards = 128

// defaultTxTimeout bounds how long a transition may hold its shard.
const defaultTxTimeout = 5 * time.Second

type shardedDonationTx struct {
	shards  [numDonationShards]sync.Mutex
	timeout time.Duration
}

func (t *shardedDonationTx) run(ctx context.Context, donationID id.DonationID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transition aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := shardFor(donationID)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	// Check again after acquiring the lock.
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transition aborted: context cancelled")
	}

	return fn(ctx)
}

func shardFor(donationID id.DonationID) int {
	return int(fnv32(donationID.String()) % numDonationShards)
}

// fnv32 is FNV-1a; good distribution for UUID strings at trivial cost.
func fnv32(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
