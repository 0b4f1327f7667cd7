// internal/messaging/notifications.go
// Offline delivery of new-message notices

package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ErrNoContact means the recipient has no address the notifier can use.
var ErrNoContact = errors.New("recipient has no contact address")

// OfflineNotice describes a message delivered while the recipient had no
// live connection.
type OfflineNotice struct {
	ConversationID   string
	ConversationName string
	SenderName       string
	Preview          string
}

func (n OfflineNotice) text() string {
	if n.ConversationName == n.SenderName {
		return fmt.Sprintf("%s: %s", n.SenderName, n.Preview)
	}
	return fmt.Sprintf("%s in %s: %s", n.SenderName, n.ConversationName, n.Preview)
}

type Notifier interface {
	Notify(ctx context.Context, user *UserInfo, notice OfflineNotice) error
}

// LogNotifier writes notices to the log. It is the development default.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Notify(ctx context.Context, user *UserInfo, notice OfflineNotice) error {
	n.logger.Info().
		Str("user_id", user.ID).
		Str("conversation_id", notice.ConversationID).
		Msg(notice.text())
	return nil
}

// SendGridNotifier emails the notice.
type SendGridNotifier struct {
	client *sendgrid.Client
	from   string
}

func NewSendGridNotifier(apiKey, from string) *SendGridNotifier {
	return &SendGridNotifier{
		client: sendgrid.NewSendClient(apiKey),
		from:   from,
	}
}

func (n *SendGridNotifier) Notify(ctx context.Context, user *UserInfo, notice OfflineNotice) error {
	if user.Email == nil || *user.Email == "" {
		return ErrNoContact
	}

	from := mail.NewEmail("Kiekky Chat", n.from)
	to := mail.NewEmail(user.Name(), *user.Email)
	subject := fmt.Sprintf("New message from %s", notice.SenderName)
	message := mail.NewSingleEmail(from, subject, to, notice.text(), "")

	response, err := n.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email via SendGrid: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("SendGrid returned error status: %d", response.StatusCode)
	}
	return nil
}

// TwilioNotifier texts the notice.
type TwilioNotifier struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioNotifier(accountSID, authToken, from string) (*TwilioNotifier, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("incomplete Twilio configuration")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioNotifier{client: client, from: from}, nil
}

func (n *TwilioNotifier) Notify(ctx context.Context, user *UserInfo, notice OfflineNotice) error {
	if user.Phone == nil || *user.Phone == "" {
		return ErrNoContact
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(*user.Phone)
	params.SetFrom(n.from)
	params.SetBody(notice.text())

	if _, err := n.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to send SMS via Twilio: %w", err)
	}
	return nil
}
