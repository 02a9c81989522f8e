package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	job:{batch}:{file}  -> JSON Entry
//	batch:{batch}:files -> set of file ids
//	hash:{hash}         -> "COMPLETED"
//
// Entries expire after a retention window; status is operational state,
// not an archive.
const retention = 7 * 24 * time.Hour

// RedisStore implements Store on Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore parses a redis URL and connects a client.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests and
// by callers sharing one connection pool with the notifier.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close releases the client.
func (s *RedisStore) Close() error { return s.client.Close() }

func jobKey(batchID, fileID string) string {
	return "job:" + batchID + ":" + fileID
}

// Set records the entry and registers the file in its batch index.
func (s *RedisStore) Set(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal status entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(entry.BatchID, entry.FileID), data, retention)
	pipe.SAdd(ctx, "batch:"+entry.BatchID+":files", entry.FileID)
	pipe.Expire(ctx, "batch:"+entry.BatchID+":files", retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set status %s/%s: %w", entry.BatchID, entry.FileID, err)
	}
	return nil
}

// Get returns one file's entry, or nil when unknown.
func (s *RedisStore) Get(ctx context.Context, batchID, fileID string) (*Entry, error) {
	data, err := s.client.Get(ctx, jobKey(batchID, fileID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status %s/%s: %w", batchID, fileID, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal status entry: %w", err)
	}
	return &entry, nil
}

// Batch returns every known entry of a batch.
func (s *RedisStore) Batch(ctx context.Context, batchID string) ([]Entry, error) {
	fileIDs, err := s.client.SMembers(ctx, "batch:"+batchID+":files").Result()
	if err != nil {
		return nil, fmt.Errorf("list batch %s: %w", batchID, err)
	}

	entries := make([]Entry, 0, len(fileIDs))
	for _, fileID := range fileIDs {
		entry, err := s.Get(ctx, batchID, fileID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

// CompletedHash reports whether this content hash finished before.
func (s *RedisStore) CompletedHash(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	val, err := s.client.Get(ctx, "hash:"+hash).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get hash %s: %w", hash, err)
	}
	return val == "COMPLETED", nil
}

// MarkHashCompleted records a finished content hash.
func (s *RedisStore) MarkHashCompleted(ctx context.Context, hash string) error {
	if hash == "" {
		return nil
	}
	return s.client.Set(ctx, "hash:"+hash, "COMPLETED", 0).Err()
}

// ReleaseHash clears a hash so a failed file can be retried by hand.
func (s *RedisStore) ReleaseHash(ctx context.Context, hash string) error {
	if hash == "" {
		return nil
	}
	return s.client.Del(ctx, "hash:"+hash).Err()
}
