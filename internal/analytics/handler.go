package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/peermatch/matcher/internal/logger"
)

// DefaultRateWindow is the look-back used when the request names none.
const DefaultRateWindow = 24 * time.Hour

// MatchRater reports the share of a user's recent attempts that matched.
// *PostgresSink satisfies it.
type MatchRater interface {
	MatchRate(ctx context.Context, userID string, window time.Duration) (float64, int, error)
}

type matchRateResponse struct {
	UserID    string  `json:"user_id"`
	Window    string  `json:"window"`
	Attempts  int     `json:"attempts"`
	MatchRate float64 `json:"match_rate"`
}

// MatchRateHandler serves GET ?user_id=<id>&window=<duration>.
func MatchRateHandler(src MatchRater, log *logger.Logger) http.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Component("analytics")

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		window := DefaultRateWindow
		if v := r.URL.Query().Get("window"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				http.Error(w, "window must be a positive duration", http.StatusBadRequest)
				return
			}
			window = d
		}

		rate, attempts, err := src.MatchRate(r.Context(), userID, window)
		if err != nil {
			log.Error("match rate query", "user_id", userID, "error", err)
			http.Error(w, "match rate unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(matchRateResponse{
			UserID:    userID,
			Window:    window.String(),
			Attempts:  attempts,
			MatchRate: rate,
		})
	}
}
