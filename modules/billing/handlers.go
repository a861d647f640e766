package billing

import (
	"net/http"

	"github.com/dmitrymomot/keytier/handler"
	"github.com/dmitrymomot/keytier/pkg/jwt"
	"github.com/dmitrymomot/keytier/svc/entitlement"
	"github.com/dmitrymomot/keytier/svc/plan"
)

type planRequest struct {
	Plan string `json:"plan"`
}

type checkoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type selectPlanResponse struct {
	Plan      plan.Tier `json:"plan"`
	APIKey    string    `json:"api_key,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	URL       string    `json:"url,omitempty"`
}

type verifyRequest struct {
	SessionID string `json:"sessionId"`
}

type verifyResponse struct {
	Success    bool      `json:"success"`
	Plan       plan.Tier `json:"plan"`
	CustomerID string    `json:"customerId,omitempty"`
	APIKey     string    `json:"apiKey,omitempty"`
	Superseded bool      `json:"superseded,omitempty"`
}

type subscriptionResponse struct {
	Subscription *entitlement.View `json:"subscription"`
}

type cancelRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

type cancelResponse struct {
	Success      bool              `json:"success"`
	Subscription *entitlement.View `json:"subscription"`
}

type statusResponse struct {
	Plan    plan.Tier           `json:"plan,omitempty"`
	Outcome entitlement.Outcome `json:"outcome"`
}

func userID(ctx handler.Context) string {
	id, _ := jwt.UserID(ctx)
	return id
}

func (m *module) createCheckoutSession(ctx handler.Context, req planRequest) handler.Response {
	sel, err := m.svc.CreateCheckout(ctx, userID(ctx), req.Plan)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(checkoutResponse{SessionID: sel.SessionID, URL: sel.URL})
}

func (m *module) selectPlan(ctx handler.Context, req planRequest) handler.Response {
	sel, err := m.svc.SelectPlan(ctx, userID(ctx), req.Plan)
	if err != nil {
		return handler.Fail(err)
	}
	resp := selectPlanResponse{Plan: sel.Plan, SessionID: sel.SessionID, URL: sel.URL}
	if sel.Credential != nil {
		resp.APIKey = sel.Credential.APIKey
	}
	return handler.JSON(resp)
}

func (m *module) verifyPayment(ctx handler.Context, req verifyRequest) handler.Response {
	v, err := m.svc.VerifyPayment(ctx, userID(ctx), req.SessionID)
	if err != nil {
		return handler.Fail(err)
	}
	resp := verifyResponse{Success: v.Success, Plan: v.Plan, CustomerID: v.CustomerID, Superseded: v.Superseded}
	if v.Credential != nil {
		resp.APIKey = v.Credential.APIKey
	}
	return handler.JSON(resp)
}

func (m *module) getSubscription(ctx handler.Context, _ struct{}) handler.Response {
	v, err := m.svc.FetchSubscription(ctx, userID(ctx))
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(subscriptionResponse{Subscription: v})
}

func (m *module) cancelSubscription(ctx handler.Context, req cancelRequest) handler.Response {
	v, err := m.svc.CancelSubscription(ctx, userID(ctx), req.SubscriptionID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(cancelResponse{Success: true, Subscription: v})
}

func (m *module) checkSubscriptionStatus(ctx handler.Context, _ struct{}) handler.Response {
	id := userID(ctx)
	out, err := m.svc.ReconcileUser(ctx, id)
	if err != nil {
		return handler.Fail(err)
	}
	resp := statusResponse{Outcome: out}
	if cur, ok, err := m.svc.CurrentPlan(ctx, id); err == nil && ok {
		resp.Plan = cur
	}
	return handler.JSON(resp)
}

func (m *module) deleteAccount(ctx handler.Context, _ struct{}) handler.Response {
	if err := m.svc.DeleteAccount(ctx, userID(ctx)); err != nil {
		return handler.Fail(err)
	}
	return handler.EmptyWithStatus(http.StatusNoContent)
}
