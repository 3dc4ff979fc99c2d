package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fleetpilot-backend/internal/models"
)

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// SMSSender delivers notifications through the Twilio messages API.
type SMSSender struct {
	baseURL string
	client  *http.Client
}

func NewSMSSender() *SMSSender {
	return &SMSSender{baseURL: twilioBaseURL, client: &http.Client{Timeout: 15 * time.Second}}
}

// Send posts one message per recipient. Every recipient is attempted and
// the failures are joined.
func (s *SMSSender) Send(ctx context.Context, core *models.CoreSettings, n models.Notification) error {
	if core.TwilioAccountSID == "" || core.TwilioAuthToken == "" || core.TwilioNumber == "" {
		return errors.New("twilio is not configured")
	}
	if len(n.To) == 0 {
		return errors.New("no recipients")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(core.TwilioAccountSID))
	var errs []error
	for _, to := range n.To {
		if err := s.post(ctx, endpoint, core, to, n.Body); err != nil {
			errs = append(errs, fmt.Errorf("sms to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

func (s *SMSSender) post(ctx context.Context, endpoint string, core *models.CoreSettings, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", core.TwilioNumber)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(core.TwilioAccountSID, core.TwilioAuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("twilio status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
