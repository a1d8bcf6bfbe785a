package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shineum/maildispatch/internal/provider/stdout"
	"github.com/shineum/maildispatch/internal/smtpsink"
)

func newSinkCmd(load configLoader) *cobra.Command {
	var (
		addr     string
		useTLS   bool
		certFile string
		keyFile  string
		username string
		password string
	)

	cmd := &cobra.Command{
		Use:   "sink",
		Short: "Run a local SMTP server that prints every message it receives",
		Long: `sink accepts mail on a local port and prints each message instead of
delivering it. Point an smtp provider document at it to try a send end to end.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := load(); err != nil {
				return err
			}

			cfg := smtpsink.Config{
				Addr:     addr,
				Username: username,
				Password: password,
			}

			tlsMode := "off"
			if useTLS {
				tlsConfig, err := smtpsink.TLSConfig(certFile, keyFile)
				if err != nil {
					return err
				}
				cfg.TLSConfig = tlsConfig
				tlsMode = "self-signed"
				if certFile != "" {
					tlsMode = "file"
				}
			}

			printer := stdout.NewWithWriter(cmd.OutOrStdout())
			cfg.OnMessage = func(msg smtpsink.Message) {
				if msg.ParseErr != nil {
					slog.Warn("received unparseable message", "from", msg.From, "error", msg.ParseErr)
					return
				}
				if _, err := printer.Send(context.Background(), msg.Envelope); err != nil {
					slog.Error("failed to print message", "error", err)
				}
			}

			srv, err := smtpsink.Listen(cfg)
			if err != nil {
				return err
			}

			slog.Info("smtp sink ready", "tls_mode", tlsMode)
			if err := srv.Serve(cmd.Context()); err != nil {
				return err
			}
			slog.Info("smtp sink stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:2525", "address to listen on")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "offer STARTTLS")
	cmd.Flags().StringVar(&certFile, "cert", "", "TLS certificate file (self-signed when empty)")
	cmd.Flags().StringVar(&keyFile, "key", "", "TLS key file")
	cmd.Flags().StringVar(&username, "username", "", "require AUTH with this username")
	cmd.Flags().StringVar(&password, "password", "", "require AUTH with this password")
	return cmd
}
