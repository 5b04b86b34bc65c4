package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	pkglogger "github.com/bastionauth/bastion/pkg/logger"
)

// SESAlertService sends account-security notifications using AWS SES
type SESAlertService struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewSESAlertService creates a new SES-backed alert service
func NewSESAlertService(region, fromAddress string, logger *slog.Logger) (*SESAlertService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESAlertService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendLockoutAlert notifies an account owner that repeated failed logins have
// temporarily locked their account.
func (s *SESAlertService) SendLockoutAlert(ctx context.Context, email string, until time.Time) error {
	lockedUntil := until.UTC().Format(time.RFC1123)

	textBody := fmt.Sprintf(`Your account has been temporarily locked.

We detected several failed sign-in attempts for your account. To protect it,
sign-in is disabled until %s.

If this was you, no action is needed. You can sign in again once the lock
expires. If you don't recognize this activity, we recommend changing your
password as soon as the lock lifts.

This is an automated security message. Please do not reply to this email.
`, lockedUntil)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <h2>Your account has been temporarily locked</h2>
    <p>We detected several failed sign-in attempts for your account.
    To protect it, sign-in is disabled until <strong>%s</strong>.</p>
    <p>If this was you, no action is needed. You can sign in again once the
    lock expires. If you don't recognize this activity, we recommend changing
    your password as soon as the lock lifts.</p>
    <p style="color: #666; font-size: 12px;">This is an automated security
    message. Please do not reply to this email.</p>
</body>
</html>
`, lockedUntil)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Security alert: your account is temporarily locked"),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send lockout alert: %w", err)
	}

	s.logger.Info("lockout alert sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
