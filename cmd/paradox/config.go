package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"github.com/MrEthical07/paradox"
	"github.com/spf13/cobra"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and scaffold configuration",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigCheckCmd(root))
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		out   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration with a fresh signing secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				if _, err := os.Stat(out); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", out)
				} else if !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}

			key, err := generateKey(rand.Reader, 48, "base64")
			if err != nil {
				return err
			}
			cfg := paradox.DefaultConfig()
			cfg.Token.Secret = key.Secret
			cfg.Token.KeyID = key.KeyID

			if err := paradox.WriteConfig(out, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "paradox.yaml", "output path")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigCheckCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration and print its posture",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := paradox.LoadConfig(root.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%w: %v", paradox.ErrInvalidConfig, err)
			}
			out := cmd.OutOrStdout()
			report := paradox.BuildSecurityReport(cfg)
			fmt.Fprintf(out, "signing: %s (rotation=%t)\n", report.SigningAlgorithm, report.KeyRotationActive)
			fmt.Fprintf(out, "rounds: max=%d min_passing=%d token_lifetime=%s\n",
				report.MaxRounds, report.MinPassingRounds, report.TokenLifetime)
			for _, w := range report.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			fmt.Fprintln(out, "config ok")
			return nil
		},
	}
}
