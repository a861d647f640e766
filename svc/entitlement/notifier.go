package entitlement

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/text/language"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/keytier/pkg/email"
	"github.com/dmitrymomot/keytier/pkg/email/templates"
	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/svc/identity"
	"github.com/dmitrymomot/keytier/svc/plan"
)

// Notifier tells users about entitlement changes they did not initiate in
// the current request. Implementations must not fail the calling flow.
type Notifier interface {
	Downgraded(ctx context.Context, userID string, from, to plan.Tier)
	SetupIncomplete(ctx context.Context, userID string, tier plan.Tier, sessionID string)
}

type nopNotifier struct{}

func (nopNotifier) Downgraded(context.Context, string, plan.Tier, plan.Tier)   {}
func (nopNotifier) SetupIncomplete(context.Context, string, plan.Tier, string) {}

// NotifyConfig holds links embedded in notification emails.
type NotifyConfig struct {
	BillingURL   string `env:"NOTIFY_BILLING_URL" envDefault:"http://localhost:8080/pricing"`
	RetryURL     string `env:"NOTIFY_RETRY_URL" envDefault:"http://localhost:8080/success"`
	SupportEmail string `env:"SUPPORT_EMAIL" envDefault:"support@keytier.dev"`
}

// EmailNotifier renders notifications with the email templates and sends
// them through an email.EmailSender.
type EmailNotifier struct {
	sender  email.EmailSender
	ids     *identity.Adapter
	catalog *plan.Catalog
	cfg     NotifyConfig
	log     *slog.Logger
}

var _ Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(sender email.EmailSender, ids *identity.Adapter, catalog *plan.Catalog, cfg NotifyConfig, log *slog.Logger) *EmailNotifier {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &EmailNotifier{
		sender:  sender,
		ids:     ids,
		catalog: catalog,
		cfg:     cfg,
		log:     log.With(logger.Component("notifier")),
	}
}

func (n *EmailNotifier) Downgraded(ctx context.Context, userID string, from, to plan.Tier) {
	n.send(ctx, userID, "Your keytier plan changed", "downgraded", templates.Downgraded(templates.DowngradedData{
		PreviousPlan: string(from),
		CurrentPlan:  string(to),
		DailyLimit:   plan.FormatLimit(n.catalog.Limit(to), language.English),
		BillingURL:   n.cfg.BillingURL,
	}))
}

func (n *EmailNotifier) SetupIncomplete(ctx context.Context, userID string, tier plan.Tier, sessionID string) {
	n.send(ctx, userID, "We received your payment", "setup-incomplete", templates.SetupIncomplete(templates.SetupIncompleteData{
		Plan:         string(tier),
		SessionID:    sessionID,
		RetryURL:     n.cfg.RetryURL,
		SupportEmail: n.cfg.SupportEmail,
	}))
}

func (n *EmailNotifier) send(ctx context.Context, userID, subject, tag string, body templ.Component) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	log := n.log.With(logger.UserID(userID), slog.String("tag", tag))

	to, err := n.ids.Email(ctx, userID)
	if err != nil {
		log.WarnContext(ctx, "notification skipped: email lookup failed", logger.Error(err))
		return
	}
	if to == "" {
		log.InfoContext(ctx, "notification skipped: no email on file")
		return
	}

	html, err := templates.Render(ctx, body)
	if err != nil {
		log.ErrorContext(ctx, "notification render failed", logger.Error(err))
		return
	}
	if err := n.sender.SendEmail(ctx, email.SendEmailParams{SendTo: to, Subject: subject, BodyHTML: html, Tag: tag}); err != nil {
		log.ErrorContext(ctx, "notification send failed", logger.Error(err))
		return
	}
	log.InfoContext(ctx, "notification sent")
}
