package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// UsageResponse is the caller's usage snapshot.
type UsageResponse struct {
	Tier           string     `json:"tier"`
	Runs           int64      `json:"runs"`
	Limit          int64      `json:"limit"`
	Remaining      int64      `json:"remaining"`
	Exceeded       bool       `json:"exceeded"`
	UserID         string     `json:"userId,omitempty"`
	CycleStart     *time.Time `json:"cycleStart,omitempty"`
	DaysUntilReset *int       `json:"daysUntilReset,omitempty"`
	ResetAt        *time.Time `json:"resetAt,omitempty"`
}

// Usage returns the resolved caller's usage. Limit and Remaining are -1
// for unlimited tiers; ResetAt is omitted for lifetime quotas.
//
// GET /api/usage
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	caller := callerFor(r)

	usage, err := h.usage.Check(r.Context(), caller)
	if err != nil {
		h.logger.Error("usage check failed",
			slog.String("caller", caller.ID()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load usage")
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		Tier:           usage.Tier,
		Runs:           usage.Runs,
		Limit:          usage.Limit,
		Remaining:      usage.Remaining(),
		Exceeded:       usage.Exceeded,
		UserID:         usage.UserID,
		CycleStart:     usage.CycleStart,
		DaysUntilReset: usage.DaysUntilReset,
		ResetAt:        usage.ResetAt(h.now()),
	})
}
