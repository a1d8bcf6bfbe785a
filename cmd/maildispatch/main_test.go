package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shineum/maildispatch/internal/config"
)

const messageYAML = `from:
  address: sender@example.com
  name: Sender
to:
  - address: to@example.com
subject: Hello from the CLI
text:
  text: plain body
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func run(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())

	var decoded map[string]any
	if out.Len() > 0 {
		_ = json.Unmarshal(out.Bytes(), &decoded)
	}
	return decoded, err
}

func TestValidateCommand(t *testing.T) {
	message := writeFile(t, "message.yaml", messageYAML)

	tests := []struct {
		name     string
		provider string
		wantErr  error
		wantOK   bool
		wantCode string
	}{
		{
			name:     "valid",
			provider: "provider: stdout\n",
			wantOK:   true,
			wantCode: "OK",
		},
		{
			name:     "missing credentials",
			provider: "provider: mailgun\ndriver: api\n",
			wantErr:  errNotSent,
			wantCode: "config_invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := writeFile(t, "provider.yaml", tt.provider)
			got, err := run(t, "validate", "--provider", provider, "--message", message)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got["ok"] != tt.wantOK {
				t.Errorf("ok = %v, want %v", got["ok"], tt.wantOK)
			}
			if got["code"] != tt.wantCode {
				t.Errorf("code = %v, want %q", got["code"], tt.wantCode)
			}
		})
	}
}

func TestSendCommand_Stdout(t *testing.T) {
	provider := writeFile(t, "provider.yaml", "provider: stdout\n")
	message := writeFile(t, "message.yaml", messageYAML)

	got, err := run(t, "send", "--provider", provider, "--message", message)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got["ok"] != true {
		t.Fatalf("ok = %v", got["ok"])
	}
	extra, _ := got["extra"].(map[string]any)
	if extra["provider"] != "stdout" || extra["message_id"] == "" {
		t.Errorf("extra = %v", extra)
	}
}

func TestSendCommand_UnresolvedProvider(t *testing.T) {
	provider := writeFile(t, "provider.yaml", "provider: mailgun\ndriver: ftp\n")
	message := writeFile(t, "message.yaml", messageYAML)

	got, err := run(t, "send", "--provider", provider, "--message", message)
	if !errors.Is(err, errNotSent) {
		t.Fatalf("error = %v, want errNotSent", err)
	}
	if got["message"] != "Invalid provider: mailgun" {
		t.Errorf("message = %v", got["message"])
	}
}

func TestSendCommand_RequiresDocuments(t *testing.T) {
	if _, err := run(t, "send"); err == nil {
		t.Fatal("expected error for missing flags")
	}
}

func TestSendCommand_MissingFile(t *testing.T) {
	message := writeFile(t, "message.yaml", messageYAML)
	_, err := run(t, "send", "--provider", filepath.Join(t.TempDir(), "nope.yaml"), "--message", message)
	if err == nil || errors.Is(err, errNotSent) {
		t.Fatalf("expected a load error, got %v", err)
	}
}

func TestProvidersCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"providers"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var entries []providerEntry
	if err := json.Unmarshal(out.Bytes(), &entries); err != nil {
		t.Fatalf("output is not a provider list: %v\n%s", err, out.String())
	}

	byName := make(map[string]providerEntry, len(entries))
	for _, e := range entries {
		byName[config.Binding{Provider: e.Provider, Driver: e.Driver}.String()] = e
	}
	if len(byName) != len(config.Bindings()) {
		t.Errorf("got %d entries, want %d", len(byName), len(config.Bindings()))
	}
	if got := byName["mailgun+api"].Credentials; len(got) != 2 || got[0] != "key" || got[1] != "domain" {
		t.Errorf("mailgun+api credentials: got %v", got)
	}
	if e, ok := byName["stdout"]; !ok || e.Credentials == nil || len(e.Credentials) != 0 {
		t.Errorf("stdout entry: got %+v, %v", e, ok)
	}
}
