package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/clawbot/coordinator/internal/auth"
)

func newKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage operator API keys",
	}
	cmd.AddCommand(newKeyHashCommand())
	return cmd
}

// newKeyHashCommand prompts for a key without echo and prints the
// bcrypt hash to paste into security.api_key_hashes.
func newKeyHashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Hash an API key for the coordinator config",
		Long: `Reads an API key from the terminal (input is hidden) and prints its
bcrypt hash. Add the hash to security.api_key_hashes in the coordinator
config; the plain key is what operators pass via X-API-Key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print("Enter API key: ")
			keyBytes, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("failed to read key: %w", err)
			}
			if len(keyBytes) == 0 {
				return fmt.Errorf("key cannot be empty")
			}

			fmt.Print("Confirm API key: ")
			confirmBytes, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("failed to read confirmation: %w", err)
			}
			if string(keyBytes) != string(confirmBytes) {
				return fmt.Errorf("keys do not match")
			}

			hash, err := auth.HashAPIKey(string(keyBytes))
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
