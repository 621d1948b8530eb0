package service

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/admission"
	"github.com/WillyEverGreen/CRCE-calc/internal/stats"
)

const recentUsersShown = 20

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	// Uptime is in seconds.
	Uptime  float64 `json:"uptime"`
	Message string  `json:"message"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.time.Now()
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: now,
		Uptime:    now.Sub(s.started).Seconds(),
		Message:   "CRCE Results API is running",
	})
}

type leaderboardResponse struct {
	Leaderboard []stats.LeaderboardEntry `json:"leaderboard"`
	Updated     time.Time                `json:"updated"`
}

func (s *Service) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.stats.Leaderboard(r.Context(), s.opts.LeaderboardSize)
	if err != nil {
		s.tel.ReportWarning(report_service_stats, "leaderboard", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch leaderboard")
		return
	}
	for i := range entries {
		entries[i].PRN = stats.MaskPublic(entries[i].PRN)
	}
	if entries == nil {
		entries = []stats.LeaderboardEntry{}
	}
	s.writeJSON(w, http.StatusOK, leaderboardResponse{
		Leaderboard: entries,
		Updated:     s.time.Now(),
	})
}

func (s *Service) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if s.opts.AdminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.AdminKey)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type adminResponse struct {
	Stats              stats.Summary            `json:"stats"`
	Queue              admission.Snapshot       `json:"queue"`
	RecentUsers        []stats.RecentUser       `json:"recentUsers"`
	Leaderboard        []stats.LeaderboardEntry `json:"leaderboard"`
	BranchDistribution map[string]int           `json:"branchDistribution"`
	ServerTime         time.Time                `json:"serverTime"`
}

// handleAdminStats never fails on a stats backend error, the affected sections are left empty.
func (s *Service) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	summary, err := s.stats.Summary(ctx)
	if err != nil {
		s.tel.ReportWarning(report_service_stats, "summary", err)
	}
	recent, err := s.stats.RecentUsers(ctx, stats.RecentLimit)
	if err != nil {
		s.tel.ReportWarning(report_service_stats, "recent users", err)
	}
	leaderboard, err := s.stats.Leaderboard(ctx, s.opts.LeaderboardSize)
	if err != nil {
		s.tel.ReportWarning(report_service_stats, "leaderboard", err)
	}

	shown := recent
	if len(shown) > recentUsersShown {
		shown = shown[:recentUsersShown]
	}
	if shown == nil {
		shown = []stats.RecentUser{}
	}
	if leaderboard == nil {
		leaderboard = []stats.LeaderboardEntry{}
	}
	queue := s.scraper.QueueSnapshot()
	if queue.Waiting == nil {
		queue.Waiting = []string{}
	}

	s.writeJSON(w, http.StatusOK, adminResponse{
		Stats:              summary,
		Queue:              queue,
		RecentUsers:        shown,
		Leaderboard:        leaderboard,
		BranchDistribution: stats.BranchDistribution(recent),
		ServerTime:         s.time.Now(),
	})
}

func (s *Service) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	section := stats.SectionCounters
	message := "Stats cleared (Recent Users & Leaderboard preserved)"
	switch r.URL.Query().Get("type") {
	case "recent_users":
		section = stats.SectionRecentUsers
		message = "Cleared recent users list"
	case "leaderboard":
		section = stats.SectionLeaderboard
		message = "Cleared leaderboard"
	}

	err := s.stats.Reset(r.Context(), section)
	if err != nil {
		s.tel.ReportBroken(report_service_admin, "reset", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to reset stats")
		return
	}
	s.writeJSON(w, http.StatusOK, successBody{Success: true, Message: message})
}

func (s *Service) handleAdminClearCache(w http.ResponseWriter, r *http.Request) {
	removed, err := s.scraper.ClearCache(r.Context())
	if err != nil {
		s.tel.ReportBroken(report_service_admin, "clear cache", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to clear cache")
		return
	}
	s.writeJSON(w, http.StatusOK, successBody{
		Success: true,
		Message: fmt.Sprintf("Cleared %d cached results", removed),
	})
}
