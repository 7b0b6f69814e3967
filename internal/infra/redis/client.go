package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the rescan queue. Queue members are
// "identityID:start-end" so multiple workers can share one queue without
// coordinating beyond the per-task locks.
type Client struct {
	rdb *redis.Client

	// owner identifies this process in lock values, so a worker never
	// releases a lock another worker re-acquired after expiry.
	owner string
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{
		rdb:   rdb,
		owner: uuid.NewString(),
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings the Redis server.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Task is one queued rescan: an identity and a block range to replay.
type Task struct {
	IdentityID int64
	Start      uint64
	End        uint64
}

// String returns the queue member encoding, "identityID:start-end".
func (t Task) String() string {
	return fmt.Sprintf("%d:%d-%d", t.IdentityID, t.Start, t.End)
}

// Key helpers
const queueKey = "rescan:ranges"

func lockKey(t Task) string {
	return fmt.Sprintf("rescan:processing:%s", t)
}

func progressKey(t Task) string {
	return fmt.Sprintf("rescan:processed:%s", t)
}

// PopTask pops the next task from the queue (lowest start height first).
func (c *Client) PopTask(ctx context.Context) (Task, bool, error) {
	// Get the first element (lowest score)
	results, err := c.rdb.ZRangeWithScores(ctx, queueKey, 0, 0).Result()
	if err != nil {
		return Task{}, false, fmt.Errorf("zrange failed: %w", err)
	}

	if len(results) == 0 {
		return Task{}, false, nil
	}

	member := results[0].Member.(string)
	task, err := ParseTask(member)
	if err != nil {
		return Task{}, false, fmt.Errorf("invalid task format: %w", err)
	}

	// Remove from queue
	if err := c.rdb.ZRem(ctx, queueKey, member).Err(); err != nil {
		return Task{}, false, fmt.Errorf("zrem failed: %w", err)
	}

	return task, true, nil
}

// PushTask adds a task to the queue.
func (c *Client) PushTask(ctx context.Context, task Task) error {
	z := redis.Z{Score: float64(task.Start), Member: task.String()}
	if err := c.rdb.ZAdd(ctx, queueKey, z).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// GetAllTasks returns all queued tasks.
func (c *Client) GetAllTasks(ctx context.Context) ([]string, error) {
	return c.rdb.ZRange(ctx, queueKey, 0, -1).Result()
}

// ClearQueue removes all tasks from the queue (for merging).
func (c *Client) ClearQueue(ctx context.Context) error {
	return c.rdb.Del(ctx, queueKey).Err()
}

// QueueLength returns the number of queued tasks.
func (c *Client) QueueLength(ctx context.Context) (int64, error) {
	return c.rdb.ZCard(ctx, queueKey).Result()
}

// AcquireLock attempts to acquire a processing lock for a task.
func (c *Client) AcquireLock(ctx context.Context, task Task, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(task), c.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases a processing lock if this client still holds it.
func (c *Client) ReleaseLock(ctx context.Context, task Task) error {
	key := lockKey(task)
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	if val != c.owner {
		// Lock expired and was taken by another worker.
		return nil
	}
	return c.rdb.Del(ctx, key).Err()
}

// RefreshLock extends the TTL of a held lock.
func (c *Client) RefreshLock(ctx context.Context, task Task, ttl time.Duration) error {
	return c.rdb.Expire(ctx, lockKey(task), ttl).Err()
}

// GetProgress gets the next unprocessed height for a task.
func (c *Client) GetProgress(ctx context.Context, task Task) (uint64, error) {
	val, err := c.rdb.Get(ctx, progressKey(task)).Result()
	if err == redis.Nil {
		return task.Start, nil // No progress, start from beginning
	}
	if err != nil {
		return 0, fmt.Errorf("get failed: %w", err)
	}
	return strconv.ParseUint(val, 10, 64)
}

// SetProgress records the next unprocessed height for a task.
func (c *Client) SetProgress(ctx context.Context, task Task, current uint64, ttl time.Duration) error {
	return c.rdb.Set(ctx, progressKey(task), strconv.FormatUint(current, 10), ttl).Err()
}

// ClearProgress removes progress tracking for a task.
func (c *Client) ClearProgress(ctx context.Context, task Task) error {
	return c.rdb.Del(ctx, progressKey(task)).Err()
}

// ParseTask parses the "identityID:start-end" queue member encoding.
func ParseTask(s string) (Task, error) {
	idPart, rangePart, ok := strings.Cut(s, ":")
	if !ok {
		return Task{}, fmt.Errorf("invalid task format: %s", s)
	}

	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return Task{}, fmt.Errorf("invalid identity id: %w", err)
	}

	startPart, endPart, ok := strings.Cut(rangePart, "-")
	if !ok {
		return Task{}, fmt.Errorf("invalid range format: %s", rangePart)
	}
	start, err := strconv.ParseUint(startPart, 10, 64)
	if err != nil {
		return Task{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err := strconv.ParseUint(endPart, 10, 64)
	if err != nil {
		return Task{}, fmt.Errorf("invalid end: %w", err)
	}
	if start > end {
		return Task{}, fmt.Errorf("start > end: %d > %d", start, end)
	}

	return Task{IdentityID: id, Start: start, End: end}, nil
}
