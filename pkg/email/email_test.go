package email_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/keytier/pkg/email"
)

func validParams() email.SendEmailParams {
	return email.SendEmailParams{
		SendTo:   "user@example.com",
		Subject:  "Your plan changed",
		BodyHTML: "<p>hello</p>",
		Tag:      "plan-downgraded",
	}
}

func TestSendEmailParams_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p *email.SendEmailParams)
	}{
		{"missing recipient", func(p *email.SendEmailParams) { p.SendTo = "" }},
		{"bad recipient", func(p *email.SendEmailParams) { p.SendTo = "not-an-email" }},
		{"missing subject", func(p *email.SendEmailParams) { p.Subject = " " }},
		{"missing body", func(p *email.SendEmailParams) { p.BodyHTML = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validParams()
			tt.mutate(&p)
			require.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
		})
	}

	require.NoError(t, validParams().Validate())
}

func TestDevSender(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sender := email.NewDevSender(dir)
	require.NoError(t, sender.SendEmail(context.Background(), validParams()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var htmlFile, jsonFile string
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".html":
			htmlFile = e.Name()
		case ".json":
			jsonFile = e.Name()
		}
	}
	assert.True(t, strings.HasSuffix(htmlFile, "_plan-downgraded.html"))

	body, err := os.ReadFile(filepath.Join(dir, htmlFile))
	require.NoError(t, err)
	assert.Equal(t, "<p>hello</p>", string(body))

	raw, err := os.ReadFile(filepath.Join(dir, jsonFile))
	require.NoError(t, err)
	var meta map[string]string
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, "user@example.com", meta["send_to"])

	err = sender.SendEmail(context.Background(), email.SendEmailParams{})
	require.ErrorIs(t, err, email.ErrInvalidParams)
}

func TestNewSender(t *testing.T) {
	t.Parallel()

	s, err := email.NewSender(email.Config{DevDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &email.DevSender{}, s)

	s, err = email.NewSender(email.Config{
		PostmarkServerToken:  "server",
		PostmarkAccountToken: "account",
		SenderEmail:          "noreply@example.com",
		SupportEmail:         "support@example.com",
	})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = email.NewSender(email.Config{
		PostmarkServerToken:  "server",
		PostmarkAccountToken: "account",
		SenderEmail:          "bad",
		SupportEmail:         "support@example.com",
	})
	require.ErrorIs(t, err, email.ErrInvalidConfig)
}
