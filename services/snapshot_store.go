package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"energyquiz/session"
)

// RedisSnapshotStore mirrors the latest snapshot of every session into redis
// and keeps a per-kind leaderboard of finished games. The mirror serves reads
// of sessions that were already torn down; live state stays in memory.
type RedisSnapshotStore struct {
	client    redis.Cmdable
	ttl       time.Duration
	closedTTL time.Duration
}

// LeaderboardEntry is one ranked username.
type LeaderboardEntry struct {
	Username string `json:"username"`
	Points   int    `json:"points"`
}

func NewRedisSnapshotStore(client redis.Cmdable, ttl time.Duration) *RedisSnapshotStore {
	closedTTL := 10 * time.Minute
	if ttl < closedTTL {
		closedTTL = ttl
	}
	return &RedisSnapshotStore{client: client, ttl: ttl, closedTTL: closedTTL}
}

func snapshotKey(id uint64) string {
	return "session:" + strconv.FormatUint(id, 10)
}

func leaderboardKey(kind session.Kind) string {
	return "leaderboard:" + kind.String()
}

func (s *RedisSnapshotStore) save(ctx context.Context, snap session.Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey(snap.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store in Redis: %w", err)
	}
	return nil
}

// Last returns the most recent mirrored snapshot of a session.
func (s *RedisSnapshotStore) Last(ctx context.Context, id uint64) (session.Snapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Snapshot{}, session.ErrSessionNotFound
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("redis error getting session %d: %w", id, err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to unmarshal session %d: %w", id, err)
	}
	return snap, nil
}

// Leaderboard returns the top n usernames for kind by best game score.
func (s *RedisSnapshotStore) Leaderboard(ctx context.Context, kind session.Kind, n int) ([]LeaderboardEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := s.client.ZRevRangeWithScores(ctx, leaderboardKey(kind), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	entries := make([]LeaderboardEntry, 0, len(zs))
	for _, z := range zs {
		name, _ := z.Member.(string)
		entries = append(entries, LeaderboardEntry{Username: name, Points: int(z.Score)})
	}
	return entries, nil
}

func (s *RedisSnapshotStore) SessionChanged(ctx context.Context, snap session.Snapshot) {
	if err := s.save(ctx, snap, s.ttl); err != nil {
		log.Warn().Err(err).Uint64("session_id", snap.ID).Msg("snapshot mirror failed")
	}
}

// SessionFinished raises each player's leaderboard entry to this game's
// score; lower scores never replace a higher one.
func (s *RedisSnapshotStore) SessionFinished(ctx context.Context, snap session.Snapshot) {
	standings := snap.Standings()
	if len(standings) == 0 {
		return
	}
	members := make([]redis.Z, 0, len(standings))
	for _, p := range standings {
		members = append(members, redis.Z{Score: float64(p.Points), Member: strings.ToLower(p.Username)})
	}
	err := s.client.ZAddArgs(ctx, leaderboardKey(snap.Kind), redis.ZAddArgs{GT: true, Members: members}).Err()
	if err != nil {
		log.Warn().Err(err).Uint64("session_id", snap.ID).Msg("leaderboard update failed")
	}
}

// SessionRemoved keeps the final snapshot around briefly so late readers
// can still see how the session ended.
func (s *RedisSnapshotStore) SessionRemoved(ctx context.Context, snap session.Snapshot) {
	if err := s.save(ctx, snap, s.closedTTL); err != nil {
		log.Warn().Err(err).Uint64("session_id", snap.ID).Msg("final snapshot mirror failed")
	}
}
