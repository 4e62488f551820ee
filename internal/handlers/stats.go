package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalAccounts     int64  `json:"total_accounts"`
	TotalParticipants int64  `json:"total_participants"`
	Online            int64  `json:"online"`
	LastActivity      string `json:"last_activity"`
}

// Stats returns platform statistics for the landing page.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalAccounts, err := h.accounts.CountAccounts(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count accounts")
		return
	}

	ps, err := h.live.ListParticipants(ctx)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "failed to read directory")
		return
	}

	var online int64
	var last *time.Time
	for _, p := range ps {
		if p.Online {
			online++
		}
		if p.LastSeen != nil && (last == nil || p.LastSeen.After(*last)) {
			last = p.LastSeen
		}
	}

	lastActivity := "no activity yet"
	if last != nil {
		lastActivity = formatTimeAgo(h.opts.Now().Sub(*last))
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalAccounts:     totalAccounts,
		TotalParticipants: int64(len(ps)),
		Online:            online,
		LastActivity:      lastActivity,
	})
}

// formatTimeAgo formats an elapsed duration as a human-readable "X ago" string.
func formatTimeAgo(diff time.Duration) string {
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
