package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mycobot-backend/internal/models"
)

var ErrNotFound = errors.New("not found")

// MemoryAnalysisRepo keeps analyses in process memory. Entries expire ttl
// after their last save, like the Redis store; ttl <= 0 keeps them forever.
type MemoryAnalysisRepo struct {
	mu        sync.RWMutex
	analyses  map[string]memoryEntry
	ttl       time.Duration
	lastPrune time.Time
	now       func() time.Time
}

type memoryEntry struct {
	analysis  models.Analysis
	expiresAt time.Time
}

func NewMemoryAnalysisRepo(ttl time.Duration) *MemoryAnalysisRepo {
	return &MemoryAnalysisRepo{
		analyses: make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (r *MemoryAnalysisRepo) Get(_ context.Context, sessionID string) (*models.Analysis, error) {
	r.mu.RLock()
	e, ok := r.analyses[sessionID]
	r.mu.RUnlock()
	if !ok || e.expired(r.now()) {
		return nil, ErrNotFound
	}
	a := e.analysis
	return &a, nil
}

func (r *MemoryAnalysisRepo) Save(_ context.Context, sessionID string, analysis *models.Analysis) error {
	if analysis == nil {
		return errors.New("analysis is nil")
	}

	now := r.now()
	e := memoryEntry{analysis: *analysis}
	if r.ttl > 0 {
		e.expiresAt = now.Add(r.ttl)
	}

	r.mu.Lock()
	r.analyses[sessionID] = e
	if r.ttl > 0 && now.Sub(r.lastPrune) >= r.ttl/4 {
		r.pruneLocked(now)
	}
	r.mu.Unlock()
	return nil
}

func (r *MemoryAnalysisRepo) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	delete(r.analyses, sessionID)
	r.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones not yet pruned included.
func (r *MemoryAnalysisRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.analyses)
}

func (r *MemoryAnalysisRepo) pruneLocked(now time.Time) {
	for id, e := range r.analyses {
		if e.expired(now) {
			delete(r.analyses, id)
		}
	}
	r.lastPrune = now
}

// RedisAnalysisRepo stores analyses as JSON; each save resets the TTL.
type RedisAnalysisRepo struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisAnalysisRepo(client *redis.Client, ttl time.Duration) *RedisAnalysisRepo {
	return &RedisAnalysisRepo{redis: client, ttl: ttl}
}

func analysisKey(sessionID string) string {
	return fmt.Sprintf("analysis:%s", sessionID)
}

func (r *RedisAnalysisRepo) Get(ctx context.Context, sessionID string) (*models.Analysis, error) {
	raw, err := r.redis.Get(ctx, analysisKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	var a models.Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	return &a, nil
}

func (r *RedisAnalysisRepo) Save(ctx context.Context, sessionID string, analysis *models.Analysis) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	return r.redis.Set(ctx, analysisKey(sessionID), data, r.ttl).Err()
}

func (r *RedisAnalysisRepo) Delete(ctx context.Context, sessionID string) error {
	return r.redis.Del(ctx, analysisKey(sessionID)).Err()
}
