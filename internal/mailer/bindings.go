package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shineum/maildispatch/internal/config"
	"github.com/shineum/maildispatch/internal/provider"
	"github.com/shineum/maildispatch/internal/provider/graph"
	"github.com/shineum/maildispatch/internal/provider/httpapi"
	"github.com/shineum/maildispatch/internal/provider/resend"
	"github.com/shineum/maildispatch/internal/provider/ses"
	"github.com/shineum/maildispatch/internal/provider/smtp"
	"github.com/shineum/maildispatch/internal/provider/stdout"
)

// Factory builds the transport for a provider document. hc is the shared
// HTTP client, nil unless one was configured.
type Factory func(ctx context.Context, p *config.Provider, hc *http.Client) (provider.Provider, error)

// Vendor SMTP relays.
const (
	gmailRelay      = "smtp.gmail.com"
	mailgunRelay    = "smtp.mailgun.org"
	mailjetRelay    = "in-v3.mailjet.com"
	postmarkRelay   = "smtp.postmarkapp.com"
	sendgridRelay   = "smtp.sendgrid.net"
	sendinblueRelay = "smtp-relay.brevo.com"
	ohmysmtpRelay   = "smtp.ohmysmtp.com"
)

// DefaultFactories returns the built-in binding table. The gateway is not
// in it; it has its own document format and is dispatched separately.
func DefaultFactories() map[config.Binding]Factory {
	return map[config.Binding]Factory{
		{Provider: config.ProviderSMTP}: func(_ context.Context, p *config.Provider, _ *http.Client) (provider.Provider, error) {
			return smtp.New(smtp.Config{
				Name:               config.ProviderSMTP,
				Host:               p.Host,
				Port:               p.Port,
				Username:           p.Username,
				Password:           p.Password,
				Encryption:         p.Encryption,
				InsecureSkipVerify: p.InsecureSkipVerify,
			}), nil
		},
		{Provider: config.ProviderGmail}: relay(config.ProviderGmail, gmailRelay, userPassword),

		{Provider: config.ProviderSES, Driver: config.DriverAPI}:  sesFactory(false),
		{Provider: config.ProviderSES, Driver: config.DriverHTTP}: sesFactory(true),
		{Provider: config.ProviderSES, Driver: config.DriverSMTP}: func(ctx context.Context, p *config.Provider, hc *http.Client) (provider.Provider, error) {
			region := p.Region
			if region == "" {
				region = "us-east-1"
			}
			return relay(config.ProviderSES, fmt.Sprintf("email-smtp.%s.amazonaws.com", region), userPassword)(ctx, p, hc)
		},

		{Provider: config.ProviderMailgun, Driver: config.DriverAPI}:  mailgunFactory(false),
		{Provider: config.ProviderMailgun, Driver: config.DriverHTTP}: mailgunFactory(true),
		{Provider: config.ProviderMailgun, Driver: config.DriverSMTP}: relay(config.ProviderMailgun, mailgunRelay, userPassword),

		{Provider: config.ProviderMailjet, Driver: config.DriverAPI}: func(_ context.Context, p *config.Provider, hc *http.Client) (provider.Provider, error) {
			return httpapi.NewMailjet(httpapi.MailjetConfig{APIKey: p.AccessKey, SecretKey: p.SecretKey, BaseURL: p.BaseURL}, hc), nil
		},
		{Provider: config.ProviderMailjet, Driver: config.DriverSMTP}: relay(config.ProviderMailjet, mailjetRelay, func(p *config.Provider) (string, string) {
			return p.AccessKey, p.SecretKey
		}),

		{Provider: config.ProviderPostmark, Driver: config.DriverAPI}: func(_ context.Context, p *config.Provider, hc *http.Client) (provider.Provider, error) {
			return httpapi.NewPostmark(httpapi.PostmarkConfig{ServerToken: p.Key, BaseURL: p.BaseURL}, hc), nil
		},
		{Provider: config.ProviderPostmark, Driver: config.DriverSMTP}: relay(config.ProviderPostmark, postmarkRelay, func(p *config.Provider) (string, string) {
			return p.ID, p.ID
		}),

		{Provider: config.ProviderSendgrid, Driver: config.DriverAPI}: func(_ context.Context, p *config.Provider, hc *http.Client) (provider.Provider, error) {
			return httpapi.NewSendGrid(httpapi.SendGridConfig{APIKey: p.Key, BaseURL: p.BaseURL}, hc), nil
		},
		{Provider: config.ProviderSendgrid, Driver: config.DriverSMTP}: relay(config.ProviderSendgrid, sendgridRelay, func(p *config.Provider) (string, string) {
			return "apikey", p.Key
		}),

		{Provider: config.ProviderSendinblue, Driver: config.DriverAPI}: func(_ context.Context, p *config.Provider, hc *http.Client) (provider.Provider, error) {
			return httpapi.NewBrevo(httpapi.BrevoConfig{APIKey: p.Key, BaseURL: p.BaseURL}, hc), nil
		},
		{Provider: config.ProviderSendinblue, Driver: config.DriverSMTP}: relay(config.ProviderSendinblue, sendinblueRelay, userPassword),

		{Provider: config.ProviderOhMySMTP, Driver: config.DriverAPI}: func(_ context.Context, p *config.Provider, hc *http.Client) (provider.Provider, error) {
			return httpapi.NewOhMySMTP(httpapi.OhMySMTPConfig{APIToken: p.APIToken, BaseURL: p.BaseURL}, hc), nil
		},
		{Provider: config.ProviderOhMySMTP, Driver: config.DriverSMTP}: relay(config.ProviderOhMySMTP, ohmysmtpRelay, func(p *config.Provider) (string, string) {
			return p.APIToken, p.APIToken
		}),

		{Provider: config.ProviderMSGraph, Driver: config.DriverAPI}: func(_ context.Context, p *config.Provider, hc *http.Client) (provider.Provider, error) {
			return graph.New(graph.Config{
				TenantID:     p.TenantID,
				ClientID:     p.ClientID,
				ClientSecret: p.ClientSecret,
				GraphURL:     p.BaseURL,
			}, hc), nil
		},

		{Provider: config.ProviderResend, Driver: config.DriverAPI}: func(_ context.Context, p *config.Provider, hc *http.Client) (provider.Provider, error) {
			rp, err := resend.New(resend.Config{APIKey: p.Key, BaseURL: p.BaseURL}, hc)
			if err != nil {
				return nil, err
			}
			return rp, nil
		},

		{Provider: config.ProviderStdout}: func(context.Context, *config.Provider, *http.Client) (provider.Provider, error) {
			return stdout.New(), nil
		},
	}
}

func userPassword(p *config.Provider) (string, string) {
	return p.Username, p.Password
}

// relay builds an SMTP transport for a vendor relay. Host, port and
// encryption in the document override the vendor defaults.
func relay(name, host string, creds func(*config.Provider) (string, string)) Factory {
	return func(_ context.Context, p *config.Provider, _ *http.Client) (provider.Provider, error) {
		cfg := smtp.Config{
			Name:               name,
			Host:               host,
			Port:               587,
			Encryption:         smtp.EncryptionSTARTTLS,
			InsecureSkipVerify: p.InsecureSkipVerify,
		}
		if p.Host != "" {
			cfg.Host = p.Host
		}
		if p.Port != 0 {
			cfg.Port = p.Port
		}
		if p.Encryption != "" {
			cfg.Encryption = p.Encryption
		}
		cfg.Username, cfg.Password = creds(p)
		return smtp.New(cfg), nil
	}
}

func sesFactory(raw bool) Factory {
	return func(ctx context.Context, p *config.Provider, _ *http.Client) (provider.Provider, error) {
		sp, err := ses.New(ctx, ses.Config{
			Region:          p.Region,
			AccessKeyID:     p.AccessKey,
			SecretAccessKey: p.SecretKey,
			Raw:             raw,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return sp, nil
	}
}

func mailgunFactory(mime bool) Factory {
	return func(_ context.Context, p *config.Provider, hc *http.Client) (provider.Provider, error) {
		return httpapi.NewMailgun(httpapi.MailgunConfig{
			APIKey:  p.Key,
			Domain:  p.Domain,
			BaseURL: p.BaseURL,
			MIME:    mime,
		}, hc), nil
	}
}
