package service

import (
	"context"
	"hash/fnv"
	"sync"

	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
)

// reservationLock serializes refund reservations per donation: the remaining
// balance read, the validation against it, and the record insert must be one
// atomic step or two concurrent requests both observe the full balance.
// Sharded by a hash of the donation id so unrelated donations never contend.
// The durable store's uniqueness constraints still guard against writers in
// other processes.
const numReservationShards = 64

type reservationLock struct {
	shards [numReservationShards]sync.Mutex
}

func (l *reservationLock) run(ctx context.Context, donationID id.DonationID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "refund reservation aborted: context cancelled")
	}

	h := fnv.New32a()
	h.Write([]byte(donationID.String()))
	shard := &l.shards[h.Sum32()%numReservationShards]

	shard.Lock()
	defer shard.Unlock()

	// Check again after acquiring the lock.
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "refund reservation aborted: context cancelled")
	}
	return fn(ctx)
}
