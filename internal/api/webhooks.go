package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/LeventeLantos/reviewgate/internal/client"
)

// SMSStatus receives gateway delivery callbacks. Unknown message ids are
// acknowledged so the gateway does not keep retrying them.
func (h *Handler) SMSStatus(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, CodeBadRequest, "unreadable body")
		return
	}

	res, err := h.reconciler.Handle(r.Context(), body, r.Header.Get(client.SignatureHeader))
	if errors.Is(err, client.ErrInvalidSignature) {
		h.fail(w, r, http.StatusUnauthorized, CodeUnauthorized, "invalid signature")
		return
	}
	if err != nil {
		h.failErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"action": res.Action,
	})
}
