package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentrt/agentrt/internal/config"
	"github.com/agentrt/agentrt/internal/vault"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the AES-256-GCM secrets vault",
}

var secretsSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Store a secret, encrypted under AGENTRT_VAULT_PASSPHRASE",
	Args:  cobra.ExactArgs(2),
	RunE:  runSecretsSet,
}

var secretsGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Decrypt and print a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretsGet,
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secret names",
	RunE:  runSecretsList,
}

func init() {
	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsGetCmd)
	secretsCmd.AddCommand(secretsListCmd)
}

func vaultPassphrase() (string, error) {
	passphrase := os.Getenv("AGENTRT_VAULT_PASSPHRASE")
	if passphrase == "" {
		return "", fmt.Errorf("AGENTRT_VAULT_PASSPHRASE is not set")
	}
	return passphrase, nil
}

func runSecretsSet(cmd *cobra.Command, args []string) error {
	passphrase, err := vaultPassphrase()
	if err != nil {
		return err
	}
	v := vault.New(config.GetPaths().Secrets())
	if err := v.Store(passphrase, args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("stored secret %q\n", args[0])
	return nil
}

func runSecretsGet(cmd *cobra.Command, args []string) error {
	passphrase, err := vaultPassphrase()
	if err != nil {
		return err
	}
	v := vault.New(config.GetPaths().Secrets())
	value, err := v.Get(passphrase, args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runSecretsList(cmd *cobra.Command, args []string) error {
	v := vault.New(config.GetPaths().Secrets())
	names, err := v.ListNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
