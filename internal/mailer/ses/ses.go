// ses отправляет письма через Amazon SES (API v2).
package ses

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/pribylovaa/go-auth-sessions/internal/config"
	"github.com/pribylovaa/go-auth-sessions/internal/mailer"
)

const charset = "UTF-8"

// API — подмножество клиента sesv2, нужное отправителю.
type API interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type Sender struct {
	api     API
	from    string
	replyTo string
}

// New загружает AWS-конфигурацию (регион из cfg, статические ключи, если заданы,
// иначе стандартная цепочка провайдеров) и создаёт отправителя.
func New(ctx context.Context, cfg config.MailConfig) (*Sender, error) {
	const op = "mailer.ses.New"

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return NewWithAPI(sesv2.NewFromConfig(awsCfg), cfg), nil
}

// NewWithAPI собирает отправителя поверх готового клиента.
func NewWithAPI(api API, cfg config.MailConfig) *Sender {
	from := cfg.From
	if cfg.FromName != "" {
		from = (&mail.Address{Name: cfg.FromName, Address: cfg.From}).String()
	}

	return &Sender{api: api, from: from, replyTo: cfg.ReplyTo}
}

func (s *Sender) Send(ctx context.Context, msg mailer.Message) error {
	const op = "mailer.ses.Send"

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String(charset)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String(charset)},
				},
			},
		},
	}

	replyTo := msg.ReplyTo
	if replyTo == "" {
		replyTo = s.replyTo
	}
	if replyTo != "" {
		in.ReplyToAddresses = []string{replyTo}
	}

	if _, err := s.api.SendEmail(ctx, in); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

var _ mailer.Sender = (*Sender)(nil)
