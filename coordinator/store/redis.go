package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. It is the shared backend when
// several coordinators point at the same fleet: the fingerprint seen-set
// uses SETNX so exactly one coordinator wins a duplicate race.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() {
	s.client.Close()
}

func (s *RedisStore) UpsertDocument(ctx context.Context, doc *Document) error {
	copyDoc := *doc
	if copyDoc.CreatedAt.IsZero() {
		copyDoc.CreatedAt = time.Now()
	}
	copyDoc.UpdatedAt = time.Now()

	prev, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(&copyDoc)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, Key(ResourceDocument, doc.ID), data, 0).Err(); err != nil {
		return err
	}
	return s.shiftStatusCount(ctx, prev, copyDoc.Status)
}

func (s *RedisStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	data, err := s.client.Get(ctx, Key(ResourceDocument, id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *RedisStore) UpdateDocumentStatus(ctx context.Context, id, status, lastError string) error {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("store: document %s not found", id)
	}
	prev := *doc
	doc.Status = status
	doc.LastError = lastError
	doc.UpdatedAt = time.Now()

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, Key(ResourceDocument, id), data, 0).Err(); err != nil {
		return err
	}
	return s.shiftStatusCount(ctx, &prev, status)
}

func (s *RedisStore) CountDocumentsByStatus(ctx context.Context) (map[string]int, error) {
	raw, err := s.client.HGetAll(ctx, statusCountsKey).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(raw))
	for status, v := range raw {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			counts[status] = n
		}
	}
	return counts, nil
}

// ClaimFingerprint uses SET NX: the first claimant wins atomically.
func (s *RedisStore) ClaimFingerprint(ctx context.Context, fingerprint, docID string) (bool, string, error) {
	key := Key(ResourceFingerprint, fingerprint)
	claimed, err := s.client.SetNX(ctx, key, docID, 0).Result()
	if err != nil {
		return false, "", err
	}
	if claimed {
		return true, "", nil
	}
	existing, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return false, "", err
	}
	return false, existing, nil
}

func (s *RedisStore) UpsertRecord(ctx context.Context, rec *Record) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, Key(ResourceRecord, rec.DocumentID), data, 0).Err()
}

func (s *RedisStore) GetRecord(ctx context.Context, docID string) (*Record, error) {
	data, err := s.client.Get(ctx, Key(ResourceRecord, docID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// shiftStatusCount keeps the status hash in step with a document's status
// transition. prev is nil for a brand new document.
func (s *RedisStore) shiftStatusCount(ctx context.Context, prev *Document, status string) error {
	pipe := s.client.Pipeline()
	if prev != nil && prev.Status != "" && prev.Status != status {
		pipe.HIncrBy(ctx, statusCountsKey, prev.Status, -1)
	}
	if prev == nil || prev.Status != status {
		pipe.HIncrBy(ctx, statusCountsKey, status, 1)
	}
	_, err := pipe.Exec(ctx)
	return err
}
