package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/mtzanidakis/crewbridge/internal/store"
	"github.com/mtzanidakis/crewbridge/internal/vault"
)

func runVault(args []string) error {
	if len(args) == 0 {
		printVaultUsage()
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Vault.Passphrase == "" {
		return fmt.Errorf("CREWBRIDGE_VAULT_PASSPHRASE environment variable or vault.passphrase is required")
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	secrets := vault.NewSecrets(vault.New(cfg.Vault.Passphrase), db)
	return vaultCommand(os.Stdout, secrets, args)
}

func vaultCommand(out io.Writer, secrets *vault.Secrets, args []string) error {
	switch args[0] {
	case "list":
		return vaultList(out, secrets)
	case "set":
		return vaultSet(out, secrets, args[1:])
	case "get":
		return vaultGet(out, secrets, args[1:])
	case "delete":
		return vaultDelete(out, secrets, args[1:])
	default:
		printVaultUsage()
		return fmt.Errorf("unknown vault command: %s", args[0])
	}
}

func printVaultUsage() {
	fmt.Fprintf(os.Stderr, `Usage: crewbridge vault <command>

Commands:
  list                                              List all secrets (metadata only)
  set <name> --value <str> [--description <text>]   Store a secret
  set <name> --file <path> [--description <text>]   Store a file's contents as a secret
  get <name>                                        Retrieve and decrypt a secret
  delete <name>                                     Delete a secret

Reference a secret from configuration as "secret:<name>".

Environment:
  CREWBRIDGE_VAULT_PASSPHRASE                       Required. Encryption passphrase.
`)
}

func vaultList(out io.Writer, secrets *vault.Secrets) error {
	list, err := secrets.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No secrets stored.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tUPDATED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Description, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func vaultSet(out io.Writer, secrets *vault.Secrets, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: crewbridge vault set <name> --value <string> | --file <path> [--description <text>]")
	}

	name := args[0]
	var value []byte
	switch args[1] {
	case "--value":
		value = []byte(args[2])
	case "--file":
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		value = data
	default:
		return fmt.Errorf("expected --value or --file, got %s", args[1])
	}

	_, flags := parseArgs(args[3:])
	if err := secrets.Put(name, flags["description"], value); err != nil {
		return err
	}
	fmt.Fprintf(out, "Secret %q saved\n", name)
	return nil
}

func vaultGet(out io.Writer, secrets *vault.Secrets, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: crewbridge vault get <name>")
	}

	plaintext, err := secrets.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Fprint(out, string(plaintext))
	if len(plaintext) > 0 && plaintext[len(plaintext)-1] != '\n' {
		fmt.Fprintln(out)
	}
	return nil
}

func vaultDelete(out io.Writer, secrets *vault.Secrets, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: crewbridge vault delete <name>")
	}
	if err := secrets.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(out, "Secret %q deleted\n", args[0])
	return nil
}
