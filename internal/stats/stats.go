// Package stats counts scrape usage and keeps the SGPA leaderboard.
package stats

import (
	"context"
	"math"
	"regexp"
	"time"
)

// RecentLimit is how many recent users are kept.
const RecentLimit = 50

type Summary struct {
	TotalRequests    int64 `json:"totalRequests"`
	TodayRequests    int64 `json:"todayRequests"`
	CacheHits        int64 `json:"cacheHits"`
	CacheHitRate     int64 `json:"cacheHitRate"`
	UniqueUsers      int64 `json:"uniqueUsers"`
	UniqueUsersToday int64 `json:"uniqueUsersToday"`
}

func (s *Summary) computeHitRate() {
	if s.TotalRequests <= 0 {
		s.CacheHitRate = 0
		return
	}
	s.CacheHitRate = int64(math.Round(float64(s.CacheHits) / float64(s.TotalRequests) * 100))
}

type RecentUser struct {
	PRN       string    `json:"prn"`
	Timestamp time.Time `json:"timestamp"`
}

type LeaderboardEntry struct {
	Rank   int     `json:"rank"`
	PRN    string  `json:"prn"`
	SGPA   float64 `json:"sgpa"`
	Branch string  `json:"branch"`
}

// Section selects what Reset clears.
type Section int

const (
	// SectionCounters is every counter and unique-user set, recent users and the
	// leaderboard are kept.
	SectionCounters Section = iota
	SectionRecentUsers
	SectionLeaderboard
)

// Recorder persists usage statistics. Callers treat every error as non-fatal.
//
// note: fault injection point
type Recorder interface {
	// RecordRequest counts one scrape request by prn.
	RecordRequest(ctx context.Context, prn string) error
	RecordCacheHit(ctx context.Context) error
	// RecordResult places prn on the leaderboard, replacing its previous sgpa.
	RecordResult(ctx context.Context, prn string, sgpa float64) error

	Summary(ctx context.Context) (Summary, error)
	// RecentUsers returns up to limit users, most recent first.
	RecentUsers(ctx context.Context, limit int) ([]RecentUser, error)
	// Leaderboard returns up to limit entries ordered by descending sgpa, prns are not masked.
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	Reset(ctx context.Context, section Section) error
}

var branchRegex = regexp.MustCompile(`MU\d{4}(\d{2})`)

var branches = map[string]string{
	"11": "CE",
	"12": "AI&ML",
	"13": "ECS",
	"14": "MECH",
	"15": "AI&DS",
	"21": "CE",
	"22": "AI&ML",
	"23": "ECS",
	"24": "MECH",
	"25": "AI&DS",
}

// Branch infers the department from the branch code inside a PRN.
func Branch(prn string) string {
	match := branchRegex.FindStringSubmatch(prn)
	if match == nil {
		return "Unknown"
	}
	name, ok := branches[match[1]]
	if !ok {
		return "Other"
	}
	return name
}

// BranchDistribution counts users per branch.
func BranchDistribution(users []RecentUser) map[string]int {
	out := map[string]int{}
	for _, u := range users {
		out[Branch(u.PRN)]++
	}
	return out
}

func mask(prn string, keep int) string {
	if len(prn) < 10 {
		return prn
	}
	return prn[:keep] + "****" + prn[len(prn)-4:]
}

// MaskPublic hides all but the first and last 4 characters, it is used wherever
// other students can see the PRN.
func MaskPublic(prn string) string {
	return mask(prn, 4)
}

// MaskAdmin keeps the first 6 characters so the year and branch stay readable.
func MaskAdmin(prn string) string {
	return mask(prn, 6)
}

func rankEntries(entries []LeaderboardEntry) []LeaderboardEntry {
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].Branch = Branch(entries[i].PRN)
	}
	return entries
}
