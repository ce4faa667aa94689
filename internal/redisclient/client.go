package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps the Redis connection used for verification codes and
// browse history. Cart state goes through the cart package on the same
// underlying connection.
type Client struct {
	rdb *redis.Client
}

// NewClient connects and pings Redis
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewWithClient wraps an existing connection. Used by tests.
func NewWithClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func smsCodeKey(mobile string) string  { return fmt.Sprintf("sms_%s", mobile) }
func sendFlagKey(mobile string) string { return fmt.Sprintf("send_flag_%s", mobile) }
func historyKey(userID int64) string   { return fmt.Sprintf("history_%d", userID) }

// StoreSMSCode saves the code and the send flag in one pipeline. The flag
// rate-limits further sends until it expires.
func (c *Client) StoreSMSCode(ctx context.Context, mobile, code string, codeTTL, flagTTL time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.SetEX(ctx, smsCodeKey(mobile), code, codeTTL)
	pipe.SetEX(ctx, sendFlagKey(mobile), "1", flagTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SMSSendFlagged reports whether the mobile is still inside the send window
func (c *Client) SMSSendFlagged(ctx context.Context, mobile string) (bool, error) {
	n, err := c.rdb.Exists(ctx, sendFlagKey(mobile)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetSMSCode returns the stored code, or "" when expired or never sent
func (c *Client) GetSMSCode(ctx context.Context, mobile string) (string, error) {
	code, err := c.rdb.Get(ctx, smsCodeKey(mobile)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return code, nil
}

// DeleteSMSCode drops a consumed code so it cannot be replayed
func (c *Client) DeleteSMSCode(ctx context.Context, mobile string) error {
	return c.rdb.Del(ctx, smsCodeKey(mobile)).Err()
}

// AddBrowseHistory puts the sku at the head of the user's history list,
// deduplicated and capped at limit entries.
func (c *Client) AddBrowseHistory(ctx context.Context, userID, skuID int64, limit int) error {
	member := strconv.FormatInt(skuID, 10)
	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, historyKey(userID), 0, member)
	pipe.LPush(ctx, historyKey(userID), member)
	pipe.LTrim(ctx, historyKey(userID), 0, int64(limit-1))
	_, err := pipe.Exec(ctx)
	return err
}

// BrowseHistory returns sku ids, most recent first
func (c *Client) BrowseHistory(ctx context.Context, userID int64, limit int) ([]int64, error) {
	members, err := c.rdb.LRange(ctx, historyKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad history member %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
