package stats

import (
	"context"
	"sort"
	"sync"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/assert"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/chrono"
)

// MemoryRecorder keeps statistics in process memory, they are lost on restart.
type MemoryRecorder struct {
	time chrono.TimeAPI

	mu          sync.Mutex
	total       int64
	daily       map[string]int64
	cacheHits   int64
	unique      map[string]struct{}
	uniqueDaily map[string]map[string]struct{}
	recent      []RecentUser
	leaderboard map[string]float64
}

func NewMemoryRecorder(timeAPI chrono.TimeAPI) *MemoryRecorder {
	assert.NotNil(timeAPI)
	return &MemoryRecorder{
		time:        timeAPI,
		daily:       map[string]int64{},
		unique:      map[string]struct{}{},
		uniqueDaily: map[string]map[string]struct{}{},
		leaderboard: map[string]float64{},
	}
}

func (r *MemoryRecorder) RecordRequest(ctx context.Context, prn string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := chrono.DateKey(r.time)
	r.total++
	r.daily[today]++
	r.unique[prn] = struct{}{}
	if r.uniqueDaily[today] == nil {
		r.uniqueDaily[today] = map[string]struct{}{}
	}
	r.uniqueDaily[today][prn] = struct{}{}

	r.recent = append([]RecentUser{{PRN: prn, Timestamp: r.time.Now()}}, r.recent...)
	if len(r.recent) > RecentLimit {
		r.recent = r.recent[:RecentLimit]
	}
	return nil
}

func (r *MemoryRecorder) RecordCacheHit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheHits++
	return nil
}

func (r *MemoryRecorder) RecordResult(ctx context.Context, prn string, sgpa float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaderboard[prn] = sgpa
	return nil
}

func (r *MemoryRecorder) Summary(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := chrono.DateKey(r.time)
	summary := Summary{
		TotalRequests:    r.total,
		TodayRequests:    r.daily[today],
		CacheHits:        r.cacheHits,
		UniqueUsers:      int64(len(r.unique)),
		UniqueUsersToday: int64(len(r.uniqueDaily[today])),
	}
	summary.computeHitRate()
	return summary, nil
}

func (r *MemoryRecorder) RecentUsers(ctx context.Context, limit int) ([]RecentUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit > len(r.recent) {
		limit = len(r.recent)
	}
	out := make([]RecentUser, limit)
	copy(out, r.recent)
	return out, nil
}

func (r *MemoryRecorder) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	r.mu.Lock()
	entries := make([]LeaderboardEntry, 0, len(r.leaderboard))
	for prn, sgpa := range r.leaderboard {
		entries = append(entries, LeaderboardEntry{PRN: prn, SGPA: sgpa})
	}
	r.mu.Unlock()

	// ties are broken the way a redis reverse range does, by descending member
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].SGPA != entries[j].SGPA {
			return entries[i].SGPA > entries[j].SGPA
		}
		return entries[i].PRN > entries[j].PRN
	})
	if limit < len(entries) {
		entries = entries[:limit]
	}
	return rankEntries(entries), nil
}

func (r *MemoryRecorder) Reset(ctx context.Context, section Section) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch section {
	case SectionRecentUsers:
		r.recent = nil
	case SectionLeaderboard:
		r.leaderboard = map[string]float64{}
	default:
		r.total = 0
		r.cacheHits = 0
		r.daily = map[string]int64{}
		r.unique = map[string]struct{}{}
		r.uniqueDaily = map[string]map[string]struct{}{}
	}
	return nil
}
