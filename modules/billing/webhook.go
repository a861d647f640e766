package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/keytier/handler"
	"github.com/dmitrymomot/keytier/pkg/logger"
	billingsvc "github.com/dmitrymomot/keytier/svc/billing"
)

// maxWebhookBody matches the largest payload providers document.
const maxWebhookBody = 1 << 20

// webhook verifies a provider notification and applies it. Signature and
// payload problems answer 400 so the provider stops retrying; processing
// failures answer 500 so it redelivers.
func (m *module) webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if provider != string(m.gateway.Provider()) {
		handler.WriteError(w, r, handler.ErrNotFound)
		return
	}
	log := m.log.With(logger.Provider(provider))

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		handler.WriteError(w, r, handler.ErrBadRequest)
		return
	}

	evt, err := m.gateway.ParseWebhook(r.Context(), payload, r.Header)
	switch {
	case errors.Is(err, billingsvc.ErrInvalidSignature):
		log.WarnContext(r.Context(), "webhook signature rejected")
		handler.WriteError(w, r, handler.ErrBadRequest.WithMessage("invalid signature"))
		return
	case err != nil:
		log.WarnContext(r.Context(), "webhook payload rejected", logger.Error(err))
		handler.WriteError(w, r, handler.ErrBadRequest.WithMessage("invalid payload"))
		return
	}

	if err := m.svc.HandleEvent(r.Context(), evt); err != nil {
		log.ErrorContext(r.Context(), "webhook processing failed",
			logger.EventType(evt.ProviderEvent), logger.Error(err))
		handler.WriteError(w, r, mapError(err))
		return
	}
	_ = handler.JSON(map[string]bool{"received": true}).Render(w, r)
}
