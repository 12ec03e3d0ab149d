package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	mux.HandleFunc("POST /v1/review-requests", h.requireSession(h.CreateReviewRequest))
	mux.HandleFunc("GET /v1/review-requests", h.requireSession(h.ListReviewRequests))
	mux.HandleFunc("GET /v1/feedback", h.requireSession(h.ListFeedback))

	mux.HandleFunc("GET /review/{token}", h.ReviewPage)
	mux.HandleFunc("POST /review/{token}/rating", h.SubmitRating)
	mux.HandleFunc("POST /review/{token}/feedback", h.SubmitFeedback)

	mux.HandleFunc("POST /v1/webhooks/sms-status", h.SMSStatus)

	mux.HandleFunc("POST /v1/cron/send-due", h.requireCron(h.CronSendDue))
	mux.HandleFunc("POST /v1/cron/send-nudges", h.requireCron(h.CronSendNudges))

	if h.ticker != nil {
		mux.HandleFunc("GET /v1/cron/ticker", h.requireCron(h.TickerStatus))
		mux.HandleFunc("POST /v1/cron/ticker/start", h.requireCron(h.TickerStart))
		mux.HandleFunc("POST /v1/cron/ticker/stop", h.requireCron(h.TickerStop))
	}

	return requestID(loggingMiddleware(h.logger, mux))
}
