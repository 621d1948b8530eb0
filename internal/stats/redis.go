package stats

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/assert"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/chrono"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/redis/go-redis/v9"
)

const (
	keyTotal          = "stats:total"
	keyDailyPrefix    = "stats:daily:"
	keyCacheHits      = "stats:cache_hits"
	keyRecentUsers    = "stats:recent_users"
	keyUniqueUsers    = "stats:unique_users"
	keyUniqueDailyPfx = "stats:unique_daily:"
	keyLeaderboard    = "leaderboard:sgpa"

	dailyRetention = 30 * 24 * time.Hour
)

const report_stats_recent = "stats.recent"

// RedisRecorder keeps statistics in redis so they are shared between instances and survive
// restarts.
type RedisRecorder struct {
	client redis.UniversalClient
	time   chrono.TimeAPI
	tel    telemetry.API
}

func NewRedisRecorder(client redis.UniversalClient, timeAPI chrono.TimeAPI, tel telemetry.API) RedisRecorder {
	assert.NotNil(client)
	assert.NotNil(timeAPI)
	assert.NotNil(tel)
	return RedisRecorder{
		client: client,
		time:   timeAPI,
		tel:    telemetry.NewScopedAPI("stats", tel),
	}
}

func (r RedisRecorder) RecordRequest(ctx context.Context, prn string) error {
	today := chrono.DateKey(r.time)
	recent, err := json.Marshal(RecentUser{PRN: prn, Timestamp: r.time.Now()})
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, keyTotal)
		pipe.Incr(ctx, keyDailyPrefix+today)
		pipe.Expire(ctx, keyDailyPrefix+today, dailyRetention)
		pipe.SAdd(ctx, keyUniqueUsers, prn)
		pipe.SAdd(ctx, keyUniqueDailyPfx+today, prn)
		pipe.Expire(ctx, keyUniqueDailyPfx+today, dailyRetention)
		pipe.LPush(ctx, keyRecentUsers, recent)
		pipe.LTrim(ctx, keyRecentUsers, 0, RecentLimit-1)
		return nil
	})
	return err
}

func (r RedisRecorder) RecordCacheHit(ctx context.Context) error {
	return r.client.Incr(ctx, keyCacheHits).Err()
}

func (r RedisRecorder) RecordResult(ctx context.Context, prn string, sgpa float64) error {
	return r.client.ZAdd(ctx, keyLeaderboard, redis.Z{Score: sgpa, Member: prn}).Err()
}

func counter(cmd *redis.StringCmd) (int64, error) {
	n, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r RedisRecorder) Summary(ctx context.Context) (Summary, error) {
	today := chrono.DateKey(r.time)

	pipe := r.client.Pipeline()
	total := pipe.Get(ctx, keyTotal)
	daily := pipe.Get(ctx, keyDailyPrefix+today)
	hits := pipe.Get(ctx, keyCacheHits)
	unique := pipe.SCard(ctx, keyUniqueUsers)
	uniqueToday := pipe.SCard(ctx, keyUniqueDailyPfx+today)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return Summary{}, err
	}

	var summary Summary
	if summary.TotalRequests, err = counter(total); err != nil {
		return Summary{}, err
	}
	if summary.TodayRequests, err = counter(daily); err != nil {
		return Summary{}, err
	}
	if summary.CacheHits, err = counter(hits); err != nil {
		return Summary{}, err
	}
	summary.UniqueUsers = unique.Val()
	summary.UniqueUsersToday = uniqueToday.Val()
	summary.computeHitRate()
	return summary, nil
}

func (r RedisRecorder) RecentUsers(ctx context.Context, limit int) ([]RecentUser, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := r.client.LRange(ctx, keyRecentUsers, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	users := make([]RecentUser, 0, len(raw))
	for _, entry := range raw {
		var u RecentUser
		if err := json.Unmarshal([]byte(entry), &u); err != nil || len(u.PRN) < 5 {
			r.tel.ReportWarning(report_stats_recent, "skipping malformed entry", entry)
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

func (r RedisRecorder) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := r.client.ZRevRangeWithScores(ctx, keyLeaderboard, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(raw))
	for _, z := range raw {
		prn, _ := z.Member.(string)
		entries = append(entries, LeaderboardEntry{PRN: prn, SGPA: z.Score})
	}
	return rankEntries(entries), nil
}

func (r RedisRecorder) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r RedisRecorder) Reset(ctx context.Context, section Section) error {
	switch section {
	case SectionRecentUsers:
		return r.client.Del(ctx, keyRecentUsers).Err()
	case SectionLeaderboard:
		return r.client.Del(ctx, keyLeaderboard).Err()
	}

	keys := []string{keyTotal, keyCacheHits, keyUniqueUsers}
	for _, pattern := range []string{keyDailyPrefix + "*", keyUniqueDailyPfx + "*"} {
		found, err := r.scanKeys(ctx, pattern)
		if err != nil {
			return err
		}
		keys = append(keys, found...)
	}
	return r.client.Del(ctx, keys...).Err()
}
