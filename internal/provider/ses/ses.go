// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/provider"
)

// defaultRegion is used when the configuration names none.
const defaultRegion = "us-east-1"

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Raw sends every message as raw MIME instead of structured content.
	Raw bool
}

// Provider sends emails via the AWS SES v2 API.
type Provider struct {
	client SendEmailAPI
	raw    bool
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new Provider with the given configuration.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{
		client: sesv2.NewFromConfig(awsCfg),
		raw:    cfg.Raw,
	}, nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(client SendEmailAPI, raw bool) *Provider {
	return &Provider{client: client, raw: raw}
}

// Send delivers the envelope via AWS SES v2. Messages with attachments, and
// every message in raw mode, go out as raw MIME; the rest use the SES
// structured content format.
func (s *Provider) Send(ctx context.Context, env *envelope.Envelope) (provider.Receipt, error) {
	var input *sesv2.SendEmailInput

	if s.raw || len(env.Parts) > 0 {
		raw, err := env.Bytes()
		if err != nil {
			return provider.Receipt{}, fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(env.From.String()),
			Destination:      destination(env),
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw},
			},
		}
	} else {
		input = buildSimpleInput(env)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		slog.Warn("SES API error", "error", err)
		return provider.Receipt{}, &provider.SendError{Provider: s.Name(), Message: err.Error()}
	}

	receipt := provider.Receipt{MessageID: env.MessageID}
	if out != nil && aws.ToString(out.MessageId) != "" {
		receipt.MessageID = aws.ToString(out.MessageId)
	}
	return receipt, nil
}

// Name returns the provider name.
func (s *Provider) Name() string {
	return "ses"
}

func destination(env *envelope.Envelope) *types.Destination {
	return &types.Destination{
		ToAddresses:  email.Bare(env.To),
		CcAddresses:  email.Bare(env.Cc),
		BccAddresses: email.Bare(env.Bcc),
	}
}

// buildSimpleInput creates a SES SendEmailInput for emails without attachments.
func buildSimpleInput(env *envelope.Envelope) *sesv2.SendEmailInput {
	body := &types.Body{}

	if env.HTML != nil {
		body.Html = &types.Content{
			Data:    aws.String(env.HTML.Content),
			Charset: aws.String(env.HTML.Charset),
		}
	}
	if env.Text != nil {
		body.Text = &types.Content{
			Data:    aws.String(env.Text.Content),
			Charset: aws.String(env.Text.Charset),
		}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.From.String()),
		Destination:      destination(env),
		ReplyToAddresses: email.Bare(env.ReplyTo),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(env.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
	if env.ReturnPath != "" {
		input.FeedbackForwardingEmailAddress = aws.String(env.ReturnPath)
	}
	return input
}
