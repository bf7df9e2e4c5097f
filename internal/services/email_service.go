package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailService defines the interface for sending account notifications.
// Delivery is best-effort everywhere it is used; a failed send never fails
// the operation that triggered it.
type EmailService interface {
	SendPasswordResetEmail(ctx context.Context, email, token string) error
	SendImpersonationNotice(ctx context.Context, email string) error
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

func NewAWSSESEmailService(region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	resetLink := fmt.Sprintf("%s/password-reset?token=%s", s.baseURL, token)

	subject := "Ripristino password — portale B2B"
	body := fmt.Sprintf(
		"Gentile cliente,\n\nper reimpostare la password del tuo account apri il seguente link:\n\n%s\n\n"+
			"Il link scade tra 30 minuti. Se non hai richiesto il ripristino puoi ignorare questa email.\n",
		resetLink)

	return s.send(ctx, email, subject, body)
}

func (s *AWSSESEmailService) SendImpersonationNotice(ctx context.Context, email string) error {
	subject := "Avviso di accesso amministrativo"
	body := "Gentile cliente,\n\nun amministratore ha effettuato l'accesso al tuo profilo per fornirti assistenza tecnica.\n" +
		"Se non hai richiesto assistenza contatta il supporto.\n"

	return s.send(ctx, email, subject, body)
}

func (s *AWSSESEmailService) send(ctx context.Context, to, subject, body string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := s.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent", slog.String("subject", subject))
	return nil
}

// LogEmailService writes notifications to the log instead of delivering
// them. Used in development when no AWS region is configured.
type LogEmailService struct {
	baseURL string
	logger  *slog.Logger
}

func NewLogEmailService(baseURL string, logger *slog.Logger) *LogEmailService {
	return &LogEmailService{baseURL: baseURL, logger: logger}
}

func (s *LogEmailService) SendPasswordResetEmail(_ context.Context, email, token string) error {
	s.logger.Info("password reset email (not delivered)",
		slog.String("to", email),
		slog.String("link", fmt.Sprintf("%s/password-reset?token=%s", s.baseURL, token)))
	return nil
}

func (s *LogEmailService) SendImpersonationNotice(_ context.Context, email string) error {
	s.logger.Info("impersonation notice (not delivered)", slog.String("to", email))
	return nil
}
