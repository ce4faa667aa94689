package cart

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCarts is the server-side backing for authenticated owners.
// Per user it keeps a hash of quantities, a set of selected sku ids and a
// zset recording first-add order for stable listing.
type RedisCarts struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisCarts wraps an established Redis connection
func NewRedisCarts(rdb *redis.Client) *RedisCarts {
	return &RedisCarts{rdb: rdb, now: time.Now}
}

func cartKey(userID int64) string     { return fmt.Sprintf("cart_%d", userID) }
func selectedKey(userID int64) string { return fmt.Sprintf("cart_selected_%d", userID) }
func seqKey(userID int64) string      { return fmt.Sprintf("cart_seq_%d", userID) }

// ForUser binds the capability interface to one authenticated owner
func (r *RedisCarts) ForUser(userID int64) Store {
	return &redisStore{carts: r, userID: userID}
}

// Selected returns the entries flagged for the next settlement,
// in first-add order.
func (r *RedisCarts) Selected(ctx context.Context, userID int64) ([]Entry, error) {
	entries, err := r.list(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Selected {
			out = append(out, e)
		}
	}
	return out, nil
}

// Clear drops the named skus from all three keys in one pipeline
func (r *RedisCarts) Clear(ctx context.Context, userID int64, skuIDs []int64) error {
	if len(skuIDs) == 0 {
		return nil
	}
	fields := make([]string, len(skuIDs))
	members := make([]interface{}, len(skuIDs))
	for i, id := range skuIDs {
		fields[i] = strconv.FormatInt(id, 10)
		members[i] = fields[i]
	}
	pipe := r.rdb.TxPipeline()
	pipe.HDel(ctx, cartKey(userID), fields...)
	pipe.SRem(ctx, selectedKey(userID), members...)
	pipe.ZRem(ctx, seqKey(userID), members...)
	_, err := pipe.Exec(ctx)
	return err
}

// Merge applies a guest cart on login as one pipelined overwrite: guest
// quantities win, flagged skus join the selected set. Every command is an
// overwrite or a set union, so replaying the same blob is a no-op.
func (r *RedisCarts) Merge(ctx context.Context, userID int64, guest []Entry) error {
	if len(guest) == 0 {
		return nil
	}
	pipe := r.rdb.TxPipeline()
	for _, e := range guest {
		field := strconv.FormatInt(e.SKUID, 10)
		pipe.HSet(ctx, cartKey(userID), field, e.Quantity)
		pipe.ZAddNX(ctx, seqKey(userID), &redis.Z{
			Score:  float64(r.now().UnixNano()),
			Member: field,
		})
		if e.Selected {
			pipe.SAdd(ctx, selectedKey(userID), field)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisCarts) list(ctx context.Context, userID int64) ([]Entry, error) {
	ordered, err := r.rdb.ZRange(ctx, seqKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read cart order: %w", err)
	}
	counts, err := r.rdb.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	selected, err := r.rdb.SMembers(ctx, selectedKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cart selection: %w", err)
	}
	selectedSet := make(map[string]bool, len(selected))
	for _, id := range selected {
		selectedSet[id] = true
	}

	entries := make([]Entry, 0, len(counts))
	seen := make(map[string]bool, len(counts))
	for _, field := range ordered {
		qty, ok := counts[field]
		if !ok {
			continue
		}
		seen[field] = true
		e, err := parseEntry(field, qty, selectedSet[field])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	// Hash fields missing a sequence entry are appended in sku order so a
	// partially written cart still lists deterministically.
	var strays []string
	for field := range counts {
		if !seen[field] {
			strays = append(strays, field)
		}
	}
	sort.Strings(strays)
	for _, field := range strays {
		e, err := parseEntry(field, counts[field], selectedSet[field])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseEntry(field, qty string, selected bool) (Entry, error) {
	skuID, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("bad cart field %q: %w", field, err)
	}
	count, err := strconv.Atoi(qty)
	if err != nil {
		return Entry{}, fmt.Errorf("bad cart count %q: %w", qty, err)
	}
	return Entry{SKUID: skuID, Quantity: count, Selected: selected}, nil
}

type redisStore struct {
	carts  *RedisCarts
	userID int64
}

func (s *redisStore) List(ctx context.Context) ([]Entry, error) {
	return s.carts.list(ctx, s.userID)
}

func (s *redisStore) Add(ctx context.Context, e Entry) error {
	field := strconv.FormatInt(e.SKUID, 10)
	pipe := s.carts.rdb.TxPipeline()
	pipe.HIncrBy(ctx, cartKey(s.userID), field, int64(e.Quantity))
	pipe.ZAddNX(ctx, seqKey(s.userID), &redis.Z{
		Score:  float64(s.carts.now().UnixNano()),
		Member: field,
	})
	if e.Selected {
		pipe.SAdd(ctx, selectedKey(s.userID), field)
	} else {
		pipe.SRem(ctx, selectedKey(s.userID), field)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) Set(ctx context.Context, e Entry) error {
	field := strconv.FormatInt(e.SKUID, 10)
	pipe := s.carts.rdb.TxPipeline()
	pipe.HSet(ctx, cartKey(s.userID), field, e.Quantity)
	pipe.ZAddNX(ctx, seqKey(s.userID), &redis.Z{
		Score:  float64(s.carts.now().UnixNano()),
		Member: field,
	})
	if e.Selected {
		pipe.SAdd(ctx, selectedKey(s.userID), field)
	} else {
		pipe.SRem(ctx, selectedKey(s.userID), field)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) Remove(ctx context.Context, skuID int64) error {
	return s.carts.Clear(ctx, s.userID, []int64{skuID})
}

func (s *redisStore) Clear(ctx context.Context, skuIDs []int64) error {
	return s.carts.Clear(ctx, s.userID, skuIDs)
}
