package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/vigilsec/vigil/pkg/infra/prometheus"
)

const (
	blockedKeyPrefix    = "security:blocked-ips:"
	suspiciousKeyPrefix = "security:suspicious-ips:"
	historyKeyPrefix    = "security:block-history:"

	suspiciousTTL    = 24 * time.Hour
	historyRetention = 30 * 24 * time.Hour

	scanBatchSize = 100
)

// Store tracks blocked and suspicious origin addresses in an external durable
// key-value store. It is the only writer of those records. Read paths fail
// open when the store is unreachable: availability takes priority over strict
// enforcement.
type Store struct {
	redis        *redis.Client
	logger       *logrus.Logger
	timeProvider func() time.Time
}

type StoreOpts struct {
	TimeProvider func() time.Time
}

func NewStore(redisClient *redis.Client, logger *logrus.Logger, opts *StoreOpts) *Store {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &Store{
		redis:        redisClient,
		logger:       logger,
		timeProvider: timeProvider,
	}
}

// IsBlocked reads an origin's block record. A record whose expiry has passed
// is treated as not-blocked and implicitly unblocked (lazy expiry). On store
// error the answer is not-blocked.
func (s *Store) IsBlocked(ctx context.Context, ip string) BlockStatus {
	val, err := s.redis.Get(ctx, blockedKey(ip)).Result()
	if err == redis.Nil {
		return BlockStatus{}
	}
	if err != nil {
		prometheus.ReputationFailures.Inc()
		s.logger.WithError(err).
			WithField("ip", MaskIP(ip)).
			Warn("reputation store unreachable, failing open")
		return BlockStatus{}
	}

	var entry BlockedIPEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		prometheus.ReputationFailures.Inc()
		s.logger.WithError(err).
			WithField("ip", MaskIP(ip)).
			Error("corrupt block record, failing open")
		return BlockStatus{}
	}

	if entry.BlockedUntil != nil && s.timeProvider().After(*entry.BlockedUntil) {
		if err := s.UnblockIP(ctx, ip, "expired"); err != nil {
			s.logger.WithError(err).
				WithField("ip", MaskIP(ip)).
				Warn("failed to remove expired block record")
		}
		return BlockStatus{}
	}

	return BlockStatus{
		IsBlocked:    true,
		Reason:       entry.Reason,
		BlockedUntil: entry.BlockedUntil,
		Entry:        &entry,
	}
}

// BlockIP writes a new block record, overwriting any prior entry for the
// address, and appends an audit record to the per-day history list. A
// temporary block carries both a blocked_until timestamp and a native TTL on
// the underlying key.
func (s *Store) BlockIP(ctx context.Context, ip string, reason BlockReason, source string, opts BlockOptions) error {
	now := s.timeProvider()
	entry := BlockedIPEntry{
		IP:                      ip,
		Reason:                  reason,
		BlockedAt:               now,
		Source:                  source,
		ConfidenceScore:         opts.ConfidenceScore,
		RequestCountWhenBlocked: opts.RequestCount,
		Metadata:                opts.Metadata,
	}

	var expiration time.Duration
	if opts.TemporaryHours > 0 {
		until := now.Add(time.Duration(opts.TemporaryHours) * time.Hour)
		entry.BlockedUntil = &until
		expiration = until.Sub(now)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal block entry: %w", err)
	}
	audit, err := json.Marshal(auditRecord{
		IP:     ip,
		Action: "blocked",
		Reason: reason,
		Source: source,
		At:     now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	historyKey := s.historyKey(now)
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, blockedKey(ip), string(payload), expiration)
	pipe.RPush(ctx, historyKey, string(audit))
	pipe.Expire(ctx, historyKey, historyRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write block record: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"ip":     MaskIP(ip),
		"reason": reason,
		"source": source,
	}).Info("origin blocked")
	return nil
}

// UnblockIP deletes the block record and appends an unblocked audit entry.
// Unblocking an address that is not blocked is a no-op, not an error.
func (s *Store) UnblockIP(ctx context.Context, ip string, reason BlockReason) error {
	now := s.timeProvider()
	audit, err := json.Marshal(auditRecord{
		IP:     ip,
		Action: "unblocked",
		Reason: reason,
		At:     now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	historyKey := s.historyKey(now)
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, blockedKey(ip))
	pipe.RPush(ctx, historyKey, string(audit))
	pipe.Expire(ctx, historyKey, historyRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove block record: %w", err)
	}
	return nil
}

// MarkSuspicious records an origin for elevated scrutiny with a fixed 24h
// lifetime, independent of the block list.
func (s *Store) MarkSuspicious(ctx context.Context, ip, source string, metadata map[string]string) error {
	entry := SuspiciousIPEntry{
		IP:       ip,
		Source:   source,
		MarkedAt: s.timeProvider(),
		Metadata: metadata,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal suspicious entry: %w", err)
	}
	if err := s.redis.Set(ctx, suspiciousKey(ip), string(payload), suspiciousTTL).Err(); err != nil {
		return fmt.Errorf("failed to mark suspicious: %w", err)
	}
	return nil
}

// IsSuspicious reports whether an origin is currently marked. Fails open on
// store error.
func (s *Store) IsSuspicious(ctx context.Context, ip string) bool {
	err := s.redis.Get(ctx, suspiciousKey(ip)).Err()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		prometheus.ReputationFailures.Inc()
		s.logger.WithError(err).
			WithField("ip", MaskIP(ip)).
			Warn("reputation store unreachable, failing open")
		return false
	}
	return true
}

// BulkBlockIPs ingests a batch of reputation findings: already blocked
// addresses are skipped, malicious findings are blocked outright, suspicious
// findings are marked for elevated scrutiny.
func (s *Store) BulkBlockIPs(ctx context.Context, findings []Finding, source string) (BulkResult, error) {
	var result BulkResult
	for _, finding := range findings {
		if status := s.IsBlocked(ctx, finding.IP); status.IsBlocked {
			result.Skipped++
			continue
		}
		switch finding.Classification {
		case ClassificationMalicious:
			err := s.BlockIP(ctx, finding.IP, ReasonMalicious, source, BlockOptions{
				ConfidenceScore: finding.Confidence,
				Metadata:        finding.Metadata,
			})
			if err != nil {
				return result, err
			}
			result.Blocked++
		case ClassificationSuspicious:
			if err := s.MarkSuspicious(ctx, finding.IP, source, finding.Metadata); err != nil {
				return result, err
			}
			result.Marked++
		default:
			result.Skipped++
		}
	}
	return result, nil
}

// AllBlocked enumerates every block record. Corrupt records are skipped with
// a log line rather than failing the listing.
func (s *Store) AllBlocked(ctx context.Context) ([]BlockedIPEntry, error) {
	keys, err := s.scanKeys(ctx, blockedKeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	entries := make([]BlockedIPEntry, 0, len(keys))
	for _, key := range keys {
		val, err := s.redis.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read block record %s: %w", key, err)
		}
		var entry BlockedIPEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			s.logger.WithError(err).WithField("key", key).Error("skipping corrupt block record")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// BlockStats aggregates counts by reason and temporary/permanent split.
func (s *Store) BlockStats(ctx context.Context) (Stats, error) {
	entries, err := s.AllBlocked(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalBlocked: len(entries),
		ByReason:     make(map[BlockReason]int),
	}
	for _, entry := range entries {
		stats.ByReason[entry.Reason]++
		if entry.BlockedUntil != nil {
			stats.Temporary++
		} else {
			stats.Permanent++
		}
	}

	suspicious, err := s.scanKeys(ctx, suspiciousKeyPrefix+"*")
	if err != nil {
		return stats, err
	}
	stats.Suspicious = len(suspicious)
	return stats, nil
}

// CleanupExpiredBlocks proactively unblocks every record whose expiry has
// passed. Complements the lazy expiry performed on read; intended to run on
// a schedule.
func (s *Store) CleanupExpiredBlocks(ctx context.Context) (int, error) {
	entries, err := s.AllBlocked(ctx)
	if err != nil {
		return 0, err
	}

	now := s.timeProvider()
	removed := 0
	for _, entry := range entries {
		if entry.BlockedUntil == nil || now.Before(*entry.BlockedUntil) {
			continue
		}
		if err := s.UnblockIP(ctx, entry.IP, "expired"); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("expired block records cleaned up")
	}
	return removed, nil
}

func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, nextCursor, err := s.redis.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("error scanning keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (s *Store) historyKey(now time.Time) string {
	return historyKeyPrefix + now.Format("2006-01-02")
}

func blockedKey(ip string) string {
	return blockedKeyPrefix + ip
}

func suspiciousKey(ip string) string {
	return suspiciousKeyPrefix + ip
}
