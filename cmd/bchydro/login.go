package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/bchydro/internal/bchydro"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check the configured BC Hydro credentials",
	Long: `Logs in to the BC Hydro customer portal with the configured username and password and
prints the account that will be polled. Nothing is stored.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	client, err := newClient(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	fmt.Printf("Logging in to BC Hydro as %s...\n", cfg.BCHydro.Username)
	if err := client.Login(ctx); err != nil {
		var authErr *bchydro.AuthError
		if errors.As(err, &authErr) {
			return fmt.Errorf("%w (check bchydro.username and bchydro.password in %s)", err, getConfigPath())
		}
		return fmt.Errorf("logging in: %w", err)
	}
	fmt.Println("✓ Login successful")

	account, err := client.Account(ctx)
	if err != nil {
		return fmt.Errorf("looking up account: %w", err)
	}

	fmt.Printf("  Account id:     %s\n", account.ID)
	fmt.Printf("  Account number: %s\n", account.Number)
	if !account.BillingStart.IsZero() {
		fmt.Printf("  Billing period: %s to %s\n",
			account.BillingStart.Format("2006-01-02"), account.BillingEnd.Format("2006-01-02"))
	}
	return nil
}
