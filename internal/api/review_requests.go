package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/LeventeLantos/reviewgate/internal/auth"
	"github.com/LeventeLantos/reviewgate/internal/model"
	"github.com/LeventeLantos/reviewgate/internal/repo"
)

type createReviewRequestBody struct {
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
}

type reviewRequestResponse struct {
	ID              string       `json:"id"`
	CustomerID      string       `json:"customerId"`
	Status          model.Status `json:"status"`
	Link            string       `json:"link"`
	ScheduledSendAt time.Time    `json:"scheduledSendAt"`
	SentAt          *time.Time   `json:"sentAt,omitempty"`
	ClickedAt       *time.Time   `json:"clickedAt,omitempty"`
	NudgeSent       bool         `json:"nudgeSent"`
	FailureReason   *string      `json:"failureReason,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

func (h *Handler) toResponse(r model.ReviewRequest) reviewRequestResponse {
	return reviewRequestResponse{
		ID:              r.ID,
		CustomerID:      r.CustomerID,
		Status:          r.Status,
		Link:            h.publicBaseURL + "/review/" + r.Token,
		ScheduledSendAt: r.ScheduledSendAt,
		SentAt:          r.SentAt,
		ClickedAt:       r.ClickedAt,
		NudgeSent:       r.NudgeSent,
		FailureReason:   r.FailureReason,
		CreatedAt:       r.CreatedAt,
	}
}

func (h *Handler) CreateReviewRequest(w http.ResponseWriter, r *http.Request) {
	var body createReviewRequestBody
	if err := decodeBody(w, r, &body); err != nil {
		h.failErr(w, r, err)
		return
	}

	req, err := h.lifecycle.CreateRequest(r.Context(), auth.AccountIDFrom(r.Context()), body.CustomerName, body.CustomerPhone)
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toResponse(*req))
}

func (h *Handler) ListReviewRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	filter := repo.RequestFilter{
		Status: model.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		Limit:  limit,
		Offset: offset,
	}

	list, total, err := h.lifecycle.ListRequests(r.Context(), auth.AccountIDFrom(r.Context()), filter)
	if err != nil {
		h.failErr(w, r, err)
		return
	}

	out := make([]reviewRequestResponse, 0, len(list))
	for _, rr := range list {
		out = append(out, h.toResponse(rr))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  out,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
