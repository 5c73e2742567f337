// Package notify delivers transactional e-mail for the auth flows.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/mailgate/internal/models"
	pkglogger "github.com/BradenHooton/mailgate/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// sesAPI is the part of the SES client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender sends rendered messages through Amazon SES.
type SESSender struct {
	client      sesAPI
	fromAddress string
	baseURL     string
	env         string
	logger      *slog.Logger
}

// NewSESSender loads the default AWS credential chain for region.
func NewSESSender(ctx context.Context, region, fromAddress, baseURL, env string, logger *slog.Logger) (*SESSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newSESSender(ses.NewFromConfig(cfg), fromAddress, baseURL, env, logger), nil
}

func newSESSender(client sesAPI, fromAddress, baseURL, env string, logger *slog.Logger) *SESSender {
	return &SESSender{
		client:      client,
		fromAddress: fromAddress,
		baseURL:     baseURL,
		env:         env,
		logger:      logger,
	}
}

func (s *SESSender) SendTransactionalMessage(ctx context.Context, kind models.MessageKind, account *models.Account, payload map[string]string) error {
	msg, err := render(kind, s.baseURL, payload)
	if err != nil {
		return err
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{account.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}

	s.logger.InfoContext(ctx, "transactional email sent",
		slog.String("kind", string(kind)),
		slog.String("account_id", account.ID),
		pkglogger.EmailAttr(account.Email, s.env),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogSender renders messages and writes them to the log instead of sending.
// The action link is only logged in development.
type LogSender struct {
	baseURL string
	env     string
	logger  *slog.Logger
}

func NewLogSender(baseURL, env string, logger *slog.Logger) *LogSender {
	return &LogSender{baseURL: baseURL, env: env, logger: logger}
}

func (s *LogSender) SendTransactionalMessage(ctx context.Context, kind models.MessageKind, account *models.Account, payload map[string]string) error {
	msg, err := render(kind, s.baseURL, payload)
	if err != nil {
		return err
	}

	attrs := []any{
		slog.String("kind", string(kind)),
		slog.String("account_id", account.ID),
		pkglogger.EmailAttr(account.Email, s.env),
		slog.String("subject", msg.Subject),
	}
	if s.env == "development" {
		attrs = append(attrs, slog.String("body", msg.Text))
	}
	s.logger.InfoContext(ctx, "transactional email (not sent)", attrs...)
	return nil
}
