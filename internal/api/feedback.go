package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/reviewgate/internal/auth"
	"github.com/LeventeLantos/reviewgate/internal/repo"
	"github.com/LeventeLantos/reviewgate/internal/service"
)

type feedbackResponse struct {
	ID            string    `json:"id"`
	RequestID     string    `json:"requestId"`
	Rating        int       `json:"rating"`
	Comment       *string   `json:"comment,omitempty"`
	CustomerName  string    `json:"customerName"`
	CustomerPhone string    `json:"customerPhone"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ListFeedback serves the owner's private feedback inbox.
// Query: rating (1-5), since (RFC 3339), limit, offset.
func (h *Handler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pageParams(r)
	filter := repo.FeedbackFilter{Limit: limit, Offset: offset}

	if raw := strings.TrimSpace(q.Get("rating")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			h.failErr(w, r, fmt.Errorf("%w: rating must be a number", service.ErrValidation))
			return
		}
		filter.Rating = v
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.failErr(w, r, fmt.Errorf("%w: since must be an RFC 3339 time", service.ErrValidation))
			return
		}
		filter.Since = since
	}

	list, total, err := h.lifecycle.ListFeedback(r.Context(), auth.AccountIDFrom(r.Context()), filter)
	if err != nil {
		h.failErr(w, r, err)
		return
	}

	out := make([]feedbackResponse, 0, len(list))
	for _, fb := range list {
		out = append(out, feedbackResponse{
			ID:            fb.ID,
			RequestID:     fb.ReviewRequestID,
			Rating:        fb.Rating,
			Comment:       fb.Comment,
			CustomerName:  fb.CustomerName,
			CustomerPhone: fb.CustomerPhone,
			CreatedAt:     fb.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  out,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
