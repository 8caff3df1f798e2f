package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const pairCooldownPrefix = "cooldown:pair:"

// CooldownRepo remembers recently declined pairs so the pairing engine
// does not re-offer the same counterpart right away.
type CooldownRepo struct {
	client *goredis.Client
}

func NewCooldownRepo(client *goredis.Client) *CooldownRepo {
	return &CooldownRepo{client: client}
}

func (r *CooldownRepo) SetPairCooldown(ctx context.Context, userA, userB int64, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if userA <= 0 || userB <= 0 || ttl <= 0 {
		return fmt.Errorf("invalid pair cooldown payload")
	}

	if err := r.client.Set(ctx, pairCooldownKey(userA, userB), 1, ttl).Err(); err != nil {
		return fmt.Errorf("set pair cooldown: %w", err)
	}
	return nil
}

func (r *CooldownRepo) PairOnCooldown(ctx context.Context, userA, userB int64) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	n, err := r.client.Exists(ctx, pairCooldownKey(userA, userB)).Result()
	if err != nil {
		return false, fmt.Errorf("check pair cooldown: %w", err)
	}
	return n > 0, nil
}

// pairCooldownKey is order-independent: (a,b) and (b,a) share one key.
func pairCooldownKey(userA, userB int64) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return pairCooldownPrefix + strconv.FormatInt(userA, 10) + ":" + strconv.FormatInt(userB, 10)
}
