package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioNotifier sends alerts as SMS through the Twilio Messages API.
type TwilioNotifier struct {
	accountSID string
	authToken  string
	from       string
	recipients []string
	client     *http.Client
}

// NewTwilioNotifier creates a Twilio SMS notifier.
// accountSID/authToken: API credentials from the Twilio console.
// from: the sending number; recipients: numbers to text.
func NewTwilioNotifier(accountSID, authToken, from string, recipients []string) *TwilioNotifier {
	return &TwilioNotifier{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		recipients: recipients,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *TwilioNotifier) Send(ctx context.Context, alert Alert) error {
	body := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(alert.Level)), alert.Title, alert.Message)
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", t.accountSID)

	for _, to := range t.recipients {
		form := url.Values{}
		form.Set("To", to)
		form.Set("From", t.from)
		form.Set("Body", body)

		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("twilio: create request: %w", err)
		}
		req.SetBasicAuth(t.accountSID, t.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := t.client.Do(req)
		if err != nil {
			return fmt.Errorf("twilio: send: %w", err)
		}
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("twilio: unexpected status %d", resp.StatusCode)
		}
		log.Printf("[twilio] sent alert to %s: %s", to, alert.Title)
	}
	return nil
}
