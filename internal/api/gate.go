package api

import (
	"net/http"

	"github.com/LeventeLantos/reviewgate/internal/model"
	"github.com/LeventeLantos/reviewgate/internal/service"
)

type ratingBody struct {
	Rating int `json:"rating"`
}

type feedbackBody struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type ratingResponse struct {
	Route       service.Route `json:"route"`
	RedirectURL string        `json:"redirectUrl,omitempty"`
	Status      model.Status  `json:"status"`
}

func (h *Handler) ReviewPage(w http.ResponseWriter, r *http.Request) {
	view, err := h.gate.Resolve(r.Context(), r.PathValue("token"))
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) SubmitRating(w http.ResponseWriter, r *http.Request) {
	var body ratingBody
	if err := decodeBody(w, r, &body); err != nil {
		h.failErr(w, r, err)
		return
	}

	res, err := h.gate.Rate(r.Context(), r.PathValue("token"), body.Rating)
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ratingResponse{
		Route:       res.Route,
		RedirectURL: res.RedirectURL,
		Status:      res.Status,
	})
}

func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var body feedbackBody
	if err := decodeBody(w, r, &body); err != nil {
		h.failErr(w, r, err)
		return
	}

	res, err := h.gate.SubmitFeedback(r.Context(), r.PathValue("token"), body.Rating, body.Comment)
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ratingResponse{Route: res.Route, Status: res.Status})
}
