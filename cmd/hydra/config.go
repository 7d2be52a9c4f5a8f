package main

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/hydrasec/hydra/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit hydra configuration",
	RunE:  runConfig,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <openai|gemini|webhook>",
	Short: "Store a secret in the OS keychain",
	Long: `Prompts for a secret and stores it in the OS keychain instead of a
file. Scans pick keychain secrets up automatically when the matching
environment variable is unset.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetKey,
}

func init() {
	configCmd.Flags().Bool("init", false, "write a default .hydra.yaml in the current directory")
	configCmd.Flags().Bool("show", false, "print the effective configuration")
	configCmd.Flags().StringSlice("set", nil, "set a value, e.g. --set daemon.port=9000")
	configCmd.AddCommand(configSetKeyCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	doInit, _ := cmd.Flags().GetBool("init")
	show, _ := cmd.Flags().GetBool("show")
	sets, _ := cmd.Flags().GetStringSlice("set")

	path := cfgFile
	if path == "" {
		path = ".hydra.yaml"
	}

	switch {
	case doInit:
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil

	case len(sets) > 0:
		for _, kv := range sets {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("--set expects key=value, got %q", kv)
			}
			if err := config.SetValue(path, key, value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "set %s\n", key)
		}
		return nil

	case show:
		shown := *cfg
		shown.LLM.OpenAIKey = redact(shown.LLM.OpenAIKey)
		shown.LLM.GeminiKey = redact(shown.LLM.GeminiKey)
		shown.Daemon.Token = redact(shown.Daemon.Token)
		shown.Webhook.Secret = redact(shown.Webhook.Secret)
		out, err := yaml.Marshal(shown)
		if err != nil {
			return err
		}
		cmd.OutOrStdout().Write(out)
		return nil

	default:
		return cmd.Help()
	}
}

func runConfigSetKey(cmd *cobra.Command, args []string) error {
	var item string
	switch args[0] {
	case "openai":
		item = config.KeyringOpenAIItem
	case "gemini":
		item = config.KeyringGeminiItem
	case "webhook":
		item = config.KeyringWebhookItem
	default:
		return fmt.Errorf("unknown key %q (expected openai, gemini, or webhook)", args[0])
	}

	km := config.NewKeyringManager()
	if !km.IsAvailable() {
		return fmt.Errorf("no OS keychain available")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Enter secret for %s: ", args[0])
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("reading secret: %w", err)
	}
	if len(secret) == 0 {
		return fmt.Errorf("empty secret")
	}

	if err := km.Save(item, string(secret)); err != nil {
		return fmt.Errorf("storing secret: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %s in the keychain\n", args[0])
	return nil
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}
