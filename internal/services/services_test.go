package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetpilot-backend/internal/models"
)

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("fleet@example.com", models.Notification{
		Subject: "Acme, HQ, web-1 - data overdue\r\nBcc: evil@example.com",
		Body:    "line one\nline two",
		To:      []string{"a@example.com", "b@example.com"},
	}))

	assert.Contains(t, msg, "From: fleet@example.com\r\n")
	assert.Contains(t, msg, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, msg, "Subject: Acme, HQ, web-1 - data overdue  Bcc: evil@example.com\r\n")
	assert.NotContains(t, msg, "\r\nBcc:")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nline one\r\nline two"))
}

func TestEmailSender_Validation(t *testing.T) {
	s := NewEmailSender()
	ctx := context.Background()

	assert.Error(t, s.Send(ctx, &models.CoreSettings{}, models.Notification{To: []string{"a@b"}}))
	assert.Error(t, s.Send(ctx, &models.CoreSettings{SMTPHost: "smtp"}, models.Notification{}))
	assert.Error(t, s.Send(ctx, &models.CoreSettings{SMTPHost: "smtp"}, models.Notification{To: []string{"a@b"}}))
	assert.Error(t, s.Send(ctx, &models.CoreSettings{SMTPHost: "smtp", SMTPFromEmail: "x@y", SMTPSecurity: "carrier-pigeon"},
		models.Notification{To: []string{"a@b"}}))
}

func TestSMSSender(t *testing.T) {
	var mu sync.Mutex
	var got []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/Accounts/AC123/Messages.json", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		mu.Lock()
		got = append(got, form)
		mu.Unlock()
		if form.Get("To") == "+15550000" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"invalid number"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSMSSender()
	s.baseURL = srv.URL
	core := &models.CoreSettings{TwilioAccountSID: "AC123", TwilioAuthToken: "secret", TwilioNumber: "+15551111"}

	err := s.Send(context.Background(), core, models.Notification{Body: "web-1 - data overdue", To: []string{"+15552222", "+15550000"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "+15550000")
	assert.NotContains(t, err.Error(), "+15552222")

	require.Len(t, got, 2)
	assert.Equal(t, "+15551111", got[0].Get("From"))
	assert.Equal(t, "web-1 - data overdue", got[0].Get("Body"))
}

func TestSMSSender_NotConfigured(t *testing.T) {
	err := NewSMSSender().Send(context.Background(), &models.CoreSettings{}, models.Notification{To: []string{"+1"}})
	assert.Error(t, err)
}

func TestSlackClient(t *testing.T) {
	var msg SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewSlackClient(srv.URL)
	require.NoError(t, c.Send(context.Background(), nil, models.Notification{Subject: "web-1 Resolved", Body: "back online"}))
	assert.Equal(t, "web-1 Resolved", msg.Text)
	require.Len(t, msg.Blocks, 2)
	assert.Equal(t, "header", msg.Blocks[0].Type)
	assert.Equal(t, "back online", msg.Blocks[1].Text.Text)

	assert.NoError(t, NewSlackClient("").Send(context.Background(), nil, models.Notification{}))
}
