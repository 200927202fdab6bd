package mailer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/vibast-solutions/ms-go-accounts/config"
)

type fakeSender struct {
	err   error
	calls int
	sent  []*mail.Msg
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, messages ...*mail.Msg) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, messages...)
	return nil
}

func testConfig() config.MailConfig {
	return config.MailConfig{
		Server:        "smtp.example.com",
		Port:          587,
		From:          "noreply@example.com",
		StartTLS:      true,
		ValidateCerts: true,
		Timeout:       5 * time.Second,
		DomainName:    "https://app.example.com/",
		ResetPassURL:  "reset-password?token=",
	}
}

func TestSendResetLink_Delivers(t *testing.T) {
	sender := &fakeSender{}
	m := newMailer(testConfig(), sender)

	ok := m.SendResetLink(context.Background(), "a@x.com", "tok123")
	require.True(t, ok)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"<a@x.com>"}, sender.sent[0].GetToString())
	assert.Equal(t, []string{resetSubject}, sender.sent[0].GetGenHeader(mail.HeaderSubject))
}

func TestSendResetLink_ReportsFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	m := newMailer(testConfig(), sender)

	assert.False(t, m.SendResetLink(context.Background(), "a@x.com", "tok123"))
	assert.Equal(t, 1, sender.calls)
}

func TestSendResetLink_InvalidRecipient(t *testing.T) {
	sender := &fakeSender{}
	m := newMailer(testConfig(), sender)

	assert.False(t, m.SendResetLink(context.Background(), "not an address", "tok123"))
	assert.Zero(t, sender.calls)
}

func TestSendResetLink_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	m := newMailer(testConfig(), sender)

	for i := 0; i < 5; i++ {
		assert.False(t, m.SendResetLink(context.Background(), "a@x.com", "tok123"))
	}
	assert.Equal(t, 3, sender.calls)
}

func TestSendResetLink_NotConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Server = ""

	m, err := New(cfg)
	require.NoError(t, err)
	assert.False(t, m.SendResetLink(context.Background(), "a@x.com", "tok123"))
}

func TestRenderResetBody(t *testing.T) {
	link := testConfig().ResetLink("tok123")
	require.Equal(t, "https://app.example.com/reset-password?token=tok123", link)

	body, err := renderResetBody("a@x.com", link)
	require.NoError(t, err)
	assert.Contains(t, body, `href="https://app.example.com/reset-password?token=tok123"`)
	assert.Contains(t, body, "a@x.com")
}

func TestRenderResetBody_EscapesInput(t *testing.T) {
	body, err := renderResetBody("<script>@x.com", "https://app.example.com/r?token=x")
	require.NoError(t, err)
	assert.NotContains(t, body, "<script>")
}

func TestClientOptions(t *testing.T) {
	cfg := testConfig()
	assert.Len(t, clientOptions(cfg), 3)

	cfg.Username = "user"
	cfg.ValidateCerts = false
	assert.Len(t, clientOptions(cfg), 7)

	_, err := mail.NewClient(cfg.Server, clientOptions(cfg)...)
	require.NoError(t, err)
}
