package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in a provider configuration document.
const (
	ProviderSMTP       = "smtp"
	ProviderSES        = "ses"
	ProviderGmail      = "gmail"
	ProviderMailgun    = "mailgun"
	ProviderMailjet    = "mailjet"
	ProviderPostmark   = "postmark"
	ProviderSendgrid   = "sendgrid"
	ProviderSendinblue = "sendinblue"
	ProviderOhMySMTP   = "ohmysmtp"
	ProviderMSGraph    = "msgraph"
	ProviderResend     = "resend"
	ProviderStdout     = "stdout"
	ProviderGateway    = "maildocker"
)

// Delivery modes for providers that offer more than one.
const (
	DriverAPI  = "api"
	DriverHTTP = "http"
	DriverSMTP = "smtp"
)

// SMTP connection security modes.
const (
	EncryptionNone     = "none"
	EncryptionSTARTTLS = "starttls"
	EncryptionTLS      = "tls"
)

// Provider is a provider configuration document. It names the backend, the
// delivery mode, and carries the credentials that mode needs. Which
// credential fields are required depends on the (provider, driver) binding.
type Provider struct {
	Provider string `yaml:"provider" json:"provider" validate:"required,oneof=smtp ses gmail mailgun mailjet postmark sendgrid sendinblue ohmysmtp msgraph resend stdout maildocker"`
	Driver   string `yaml:"driver,omitempty" json:"driver,omitempty"`

	Host               string `yaml:"host,omitempty" json:"host,omitempty"`
	Port               int    `yaml:"port,omitempty" json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Encryption         string `yaml:"encryption,omitempty" json:"encryption,omitempty" validate:"omitempty,oneof=none starttls tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`

	Username     string `yaml:"username,omitempty" json:"username,omitempty"`
	Password     string `yaml:"password,omitempty" json:"password,omitempty"`
	Key          string `yaml:"key,omitempty" json:"key,omitempty"`
	Domain       string `yaml:"domain,omitempty" json:"domain,omitempty"`
	Region       string `yaml:"region,omitempty" json:"region,omitempty"`
	AccessKey    string `yaml:"access_key,omitempty" json:"access_key,omitempty"`
	SecretKey    string `yaml:"secret_key,omitempty" json:"secret_key,omitempty"`
	ID           string `yaml:"id,omitempty" json:"id,omitempty"`
	APIToken     string `yaml:"api_token,omitempty" json:"api_token,omitempty"`
	TenantID     string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	ClientID     string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`

	// BaseURL overrides the API root of HTTP backends.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`
	// Endpoint is the gateway request path.
	Endpoint string        `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Proxy    *Proxy        `yaml:"proxy,omitempty" json:"proxy,omitempty" validate:"omitempty"`
}

// Proxy routes gateway requests through an HTTP proxy.
type Proxy struct {
	Host string `yaml:"host" json:"host" validate:"required"`
	Port int    `yaml:"port" json:"port" validate:"required,min=1,max=65535"`
}

// Binding identifies a transport by provider and normalized driver.
type Binding struct {
	Provider string
	Driver   string
}

func (b Binding) String() string {
	if b.Driver == "" {
		return b.Provider
	}
	return b.Provider + "+" + b.Driver
}

// requiredCredentials lists, per binding, the document fields that binding
// cannot work without.
var requiredCredentials = map[Binding][]string{
	{ProviderSMTP, ""}:               {"host", "username", "password"},
	{ProviderGmail, ""}:              {"username", "password"},
	{ProviderSES, DriverAPI}:         {"access_key", "secret_key"},
	{ProviderSES, DriverHTTP}:        {"access_key", "secret_key"},
	{ProviderSES, DriverSMTP}:        {"username", "password"},
	{ProviderMailgun, DriverAPI}:     {"key", "domain"},
	{ProviderMailgun, DriverHTTP}:    {"key", "domain"},
	{ProviderMailgun, DriverSMTP}:    {"username", "password"},
	{ProviderMailjet, DriverAPI}:     {"access_key", "secret_key"},
	{ProviderMailjet, DriverSMTP}:    {"access_key", "secret_key"},
	{ProviderPostmark, DriverAPI}:    {"key"},
	{ProviderPostmark, DriverSMTP}:   {"id"},
	{ProviderSendgrid, DriverAPI}:    {"key"},
	{ProviderSendgrid, DriverSMTP}:   {"key"},
	{ProviderSendinblue, DriverAPI}:  {"key"},
	{ProviderSendinblue, DriverSMTP}: {"username", "password"},
	{ProviderOhMySMTP, DriverAPI}:    {"api_token"},
	{ProviderOhMySMTP, DriverSMTP}:   {"api_token"},
	{ProviderMSGraph, DriverAPI}:     {"tenant_id", "client_id", "client_secret"},
	{ProviderResend, DriverAPI}:      {"key"},
	{ProviderStdout, ""}:             nil,
	{ProviderGateway, ""}:            {"access_key", "secret_key"},
}

// Binding returns the normalized (provider, driver) pair. Providers with a
// single delivery mode ignore the driver.
func (p *Provider) Binding() Binding {
	driver := strings.ToLower(strings.TrimSpace(p.Driver))
	switch p.Provider {
	case ProviderSMTP, ProviderGmail, ProviderStdout, ProviderGateway:
		driver = ""
	case ProviderMSGraph, ProviderResend:
		if driver == "" {
			driver = DriverAPI
		}
	}
	return Binding{Provider: p.Provider, Driver: driver}
}

// RequiredCredentials returns the credential fields b cannot work without.
// ok is false when b names no supported transport.
func RequiredCredentials(b Binding) (fields []string, ok bool) {
	fields, ok = requiredCredentials[b]
	return slices.Clone(fields), ok
}

// Bindings returns every supported binding, sorted by name.
func Bindings() []Binding {
	out := make([]Binding, 0, len(requiredCredentials))
	for b := range requiredCredentials {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b Binding) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

// MissingCredentials returns the credential fields the document's binding
// requires but that are empty. Unknown bindings require nothing here; they
// are rejected when a transport is resolved.
func (p *Provider) MissingCredentials() []string {
	var missing []string
	for _, name := range requiredCredentials[p.Binding()] {
		if p.credential(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func (p *Provider) credential(name string) string {
	switch name {
	case "host":
		return p.Host
	case "username":
		return p.Username
	case "password":
		return p.Password
	case "key":
		return p.Key
	case "domain":
		return p.Domain
	case "access_key":
		return p.AccessKey
	case "secret_key":
		return p.SecretKey
	case "id":
		return p.ID
	case "api_token":
		return p.APIToken
	case "tenant_id":
		return p.TenantID
	case "client_id":
		return p.ClientID
	case "client_secret":
		return p.ClientSecret
	default:
		return ""
	}
}

// LoadProvider reads a provider configuration document from a YAML (or
// JSON) file. ${VAR} references are expanded from the environment so
// secrets can stay out of the file.
func LoadProvider(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider config: %w", err)
	}

	var p Provider
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &p); err != nil {
		return nil, fmt.Errorf("failed to parse provider config: %w", err)
	}
	p.Provider = strings.ToLower(strings.TrimSpace(p.Provider))
	return &p, nil
}
