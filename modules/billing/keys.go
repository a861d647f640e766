package billing

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/keytier/handler"
	"github.com/dmitrymomot/keytier/svc/credential"
)

type keyRequest struct {
	ID       string `path:"id"`
	IsActive *bool  `json:"is_active"`
}

type keysResponse struct {
	Keys []credential.Credential `json:"keys"`
}

type keyResponse struct {
	Key credential.Credential `json:"key"`
}

func (m *module) listKeys(ctx handler.Context, _ struct{}) handler.Response {
	list, err := m.creds.ListByUser(ctx, userID(ctx))
	if err != nil {
		return handler.Fail(err)
	}
	keys := make([]credential.Credential, 0, len(list))
	for _, c := range list {
		keys = append(keys, c.Masked())
	}
	return handler.JSON(keysResponse{Keys: keys})
}

// regenerateKey is the only endpoint besides plan provisioning that returns
// a full key.
func (m *module) regenerateKey(ctx handler.Context, req keyRequest) handler.Response {
	id, err := parseKeyID(req.ID)
	if err != nil {
		return handler.Fail(err)
	}
	c, err := m.creds.Regenerate(ctx, userID(ctx), id)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(keyResponse{Key: *c})
}

func (m *module) updateKey(ctx handler.Context, req keyRequest) handler.Response {
	id, err := parseKeyID(req.ID)
	if err != nil {
		return handler.Fail(err)
	}
	if req.IsActive == nil {
		return handler.Fail(handler.NewValidationError().Add("is_active", "is required"))
	}
	c, err := m.creds.SetActive(ctx, userID(ctx), id, *req.IsActive)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(keyResponse{Key: c.Masked()})
}

func parseKeyID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed key id", credential.ErrNotFound)
	}
	return id, nil
}
