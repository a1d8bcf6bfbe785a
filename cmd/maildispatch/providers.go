package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shineum/maildispatch/internal/config"
)

type providerEntry struct {
	Provider    string   `json:"provider"`
	Driver      string   `json:"driver,omitempty"`
	Credentials []string `json:"credentials"`
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the supported provider and driver pairs",
		Long: `providers prints every (provider, driver) pair a provider document can
select, with the credential fields each one requires.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bindings := config.Bindings()
			entries := make([]providerEntry, 0, len(bindings))
			for _, b := range bindings {
				creds, _ := config.RequiredCredentials(b)
				if creds == nil {
					creds = []string{}
				}
				entries = append(entries, providerEntry{Provider: b.Provider, Driver: b.Driver, Credentials: creds})
			}

			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode providers: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
