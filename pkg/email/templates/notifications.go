package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// DowngradedData fills the "plan downgraded" message.
type DowngradedData struct {
	PreviousPlan string
	CurrentPlan  string
	DailyLimit   string
	BillingURL   string
}

// SetupIncompleteData fills the "payment received, setup incomplete" message.
type SetupIncompleteData struct {
	Plan         string
	SessionID    string
	RetryURL     string
	SupportEmail string
}

// Layout wraps a message body in the shared email chrome.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w,
			`<!DOCTYPE html><html><head><meta charset="utf-8"><title>`, templ.EscapeString(title), `</title></head>`,
			`<body style="font-family:Arial,sans-serif;background:#f4f4f5;padding:24px">`,
			`<table role="presentation" width="100%" style="max-width:560px;margin:0 auto;background:#ffffff;border-radius:8px;padding:24px"><tr><td>`,
			`<h1 style="font-size:20px;margin:0 0 16px">`, templ.EscapeString(title), `</h1>`,
		); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		return write(w, `</td></tr></table></body></html>`)
	})
}

// Downgraded tells a user that their paid plan lapsed and they are on Free.
func Downgraded(d DowngradedData) templ.Component {
	return Layout("Your plan has changed", templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return write(w,
			`<p>We could not find an active subscription for your <strong>`, templ.EscapeString(d.PreviousPlan), `</strong> plan, `,
			`so your account now uses the <strong>`, templ.EscapeString(d.CurrentPlan), `</strong> plan.</p>`,
			`<p>Your API keys for the previous plan were deactivated. The new daily limit is `, templ.EscapeString(d.DailyLimit), `.</p>`,
			button(d.BillingURL, "Choose a plan"),
		)
	}))
}

// SetupIncomplete tells a user their payment was captured but provisioning
// failed and can be retried.
func SetupIncomplete(d SetupIncompleteData) templ.Component {
	return Layout("We received your payment", templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return write(w,
			`<p>Your payment for the <strong>`, templ.EscapeString(d.Plan), `</strong> plan went through, but we could not finish setting up your account.</p>`,
			`<p>Retrying is safe and will not charge you again.</p>`,
			button(d.RetryURL, "Finish setup"),
			`<p style="color:#71717a;font-size:12px">If this keeps happening, contact `, templ.EscapeString(d.SupportEmail),
			` and mention reference `, templ.EscapeString(d.SessionID), `.</p>`,
		)
	}))
}

func button(href, label string) string {
	if href == "" {
		return ""
	}
	return `<p><a href="` + templ.EscapeString(string(templ.URL(href))) + `" style="display:inline-block;background:#2563eb;color:#ffffff;padding:10px 16px;border-radius:6px;text-decoration:none">` +
		templ.EscapeString(label) + `</a></p>`
}

func write(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}
