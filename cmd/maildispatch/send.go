package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shineum/maildispatch/internal/config"
	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/mailer"
	"github.com/shineum/maildispatch/internal/result"
)

type configLoader func() (*config.Config, error)

type documentFlags struct {
	provider string
	message  string
}

func (f *documentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.provider, "provider", "p", "", "path to the provider document (YAML or JSON)")
	cmd.Flags().StringVarP(&f.message, "message", "m", "", "path to the message document (YAML or JSON)")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("message")
}

// load reads both documents.
func (f *documentFlags) load() (*config.Provider, *email.Message, error) {
	p, err := config.LoadProvider(f.provider)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(f.message)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open message document: %w", err)
	}
	defer file.Close()

	doc, err := email.DecodeDocument(file)
	if err != nil {
		return nil, nil, err
	}
	return p, doc.Message(), nil
}

func newSendCmd(load configLoader) *cobra.Command {
	var docs documentFlags

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message once through the configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			p, msg, err := docs.load()
			if err != nil {
				return err
			}

			m, err := mailer.New(mailer.WithConfig(cfg))
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), m.Send(cmd.Context(), msg, p))
		},
	}
	docs.register(cmd)
	return cmd
}

func newValidateCmd(load configLoader) *cobra.Command {
	var docs documentFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the provider and message documents without sending",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			p, msg, err := docs.load()
			if err != nil {
				return err
			}

			m, err := mailer.New(mailer.WithConfig(cfg))
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), m.Validate(msg, p))
		},
	}
	docs.register(cmd)
	return cmd
}

// printResult writes r as indented JSON and returns errNotSent when r is
// not OK.
func printResult(w io.Writer, r result.SendResult) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return err
	}
	if !r.OK() {
		return errNotSent
	}
	return nil
}
