// Package notify delivers out-of-band security alerts to users. Alerting is
// best effort; callers treat delivery failures as non-fatal.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/lekesiz/bdc-auth/internal/identity"
)

// SESNotifier sends security alert emails using AWS SES. Recipient
// addresses are resolved through the identity store at send time.
type SESNotifier struct {
	sesClient   *ses.Client
	identity    identity.Store
	fromAddress string
	logger      *slog.Logger
}

func NewSESNotifier(region, fromAddress string, identityStore identity.Store, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		identity:    identityStore,
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SecurityAlert emails the user about suspicious account activity.
func (n *SESNotifier) SecurityAlert(ctx context.Context, userID, subject, body string) error {
	user, err := n.identity.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve alert recipient: %w", err)
	}

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>%s</h1>
        </div>
        <div class="content">
            <div class="warning">%s</div>
            <p><strong>Was this you?</strong><br>
            If you recognize this activity, no action is needed.</p>
            <p>If you don't recognize it, change your password immediately and review your active sessions.</p>
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, subject, body)

	textBody := fmt.Sprintf(`%s

%s

Was this you?
If you recognize this activity, no action is needed.

If you don't recognize it, change your password immediately and review your active sessions.

This is an automated message. Please do not reply to this email.
`, subject, body)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{user.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send security alert via SES",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("security alert sent",
		slog.String("user_id", userID),
		slog.String("message_id", *result.MessageId))

	return nil
}
