// Package email sends transactional messages through Postmark, or writes
// them to disk in development.
//
// NewSender chooses the backend from Config. Message bodies are rendered from
// templ components in the templates subpackage:
//
//	html, err := templates.Render(ctx, templates.Downgraded(data))
//	if err != nil {
//		return err
//	}
//	err = sender.SendEmail(ctx, email.SendEmailParams{
//		SendTo:   "user@example.com",
//		Subject:  "Your plan changed",
//		BodyHTML: html,
//		Tag:      "plan-downgraded",
//	})
package email
