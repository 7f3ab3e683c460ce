package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Locks serializes mutations per check and per (user, store) loyalty row.
// Locks are SetNX with a TTL so a crashed holder cannot wedge a table, and
// deletes are owner-checked so an expired holder cannot release someone
// else's lock. Different checks use different keys and never block each
// other.
type Locks struct {
	Client     *redis.Client
	CheckTTL   time.Duration
	LoyaltyTTL time.Duration
}

func NewLocks(client *redis.Client, checkTTL, loyaltyTTL time.Duration) *Locks {
	return &Locks{
		Client:     client,
		CheckTTL:   checkTTL,
		LoyaltyTTL: loyaltyTTL,
	}
}

func (r *Locks) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return r.Client.SetNX(ctx, key, token, ttl).Result()
}

func (r *Locks) release(ctx context.Context, key, token string) error {
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already released or expired
	}
	if err != nil {
		return err
	}
	if val == token {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

// acquireWait retries acquisition until the context deadline. Check
// mutations are short, so contention resolves in a few spins.
func (r *Locks) acquireWait(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	for {
		ok, err := r.acquire(ctx, key, token, ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// LockCheck acquires the mutation lock for one check, waiting briefly for a
// concurrent holder.
func (r *Locks) LockCheck(ctx context.Context, checkID, token string) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.CheckTTL)
	defer cancel()
	return r.acquireWait(waitCtx, "check_lock:"+checkID, token, r.CheckTTL)
}

func (r *Locks) UnlockCheck(ctx context.Context, checkID, token string) error {
	return r.release(ctx, "check_lock:"+checkID, token)
}

// LockLoyalty serializes loyalty recomputation for one (user, store) so tier
// evaluation never reads stale stats.
func (r *Locks) LockLoyalty(ctx context.Context, userID, storeID, token string) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.LoyaltyTTL)
	defer cancel()
	key := fmt.Sprintf("loyalty_lock:%s:%s", userID, storeID)
	return r.acquireWait(waitCtx, key, token, r.LoyaltyTTL)
}

func (r *Locks) UnlockLoyalty(ctx context.Context, userID, storeID, token string) error {
	key := fmt.Sprintf("loyalty_lock:%s:%s", userID, storeID)
	return r.release(ctx, key, token)
}
