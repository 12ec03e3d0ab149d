package api

import (
	"net/http"

	"github.com/LeventeLantos/reviewgate/internal/service"
)

func (h *Handler) CronSendDue(w http.ResponseWriter, r *http.Request) {
	h.writeReport(w, h.dispatcher.SendDue(r.Context()))
}

func (h *Handler) CronSendNudges(w http.ResponseWriter, r *http.Request) {
	h.writeReport(w, h.dispatcher.SendNudges(r.Context()))
}

// writeReport answers 500 when the run could not list its work so schedulers see the outage.
func (h *Handler) writeReport(w http.ResponseWriter, report service.Report) {
	status := http.StatusOK
	if report.Error != "" {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, report)
}
