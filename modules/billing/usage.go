package billing

import (
	"net/http"
	"time"

	"golang.org/x/text/language"

	"github.com/dmitrymomot/keytier/handler"
	"github.com/dmitrymomot/keytier/svc/credential"
	"github.com/dmitrymomot/keytier/svc/plan"
)

type usageResponse struct {
	UserID    string     `json:"user_id"`
	Plan      plan.Tier  `json:"plan"`
	Limit     string     `json:"limit"`
	Remaining *int       `json:"remaining,omitempty"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

// usage is a sample key-gated endpoint reporting the caller's quota.
func (m *module) usage(w http.ResponseWriter, r *http.Request) {
	c, ok := credential.FromContext(r.Context())
	if !ok {
		handler.WriteError(w, r, handler.ErrUnauthorized)
		return
	}

	resp := usageResponse{UserID: c.UserID, Plan: c.Tier, Limit: "unlimited"}
	if q, ok := credential.QuotaFromContext(r.Context()); ok {
		resp.Limit = plan.FormatLimit(q.Limit, language.English)
		remaining, reset := q.Remaining, q.ResetAt
		resp.Remaining, resp.ResetAt = &remaining, &reset
	}
	_ = handler.JSON(resp).Render(w, r)
}
