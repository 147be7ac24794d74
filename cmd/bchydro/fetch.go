package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgoulah/bchydro/internal/coordinator"
	"github.com/jgoulah/bchydro/internal/sensor"
)

var (
	fetchNoRecord bool
	fetchTimeout  time.Duration
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch usage once and print the sensor values",
	Long: `Logs in to BC Hydro, fetches usage for the current billing period and prints the
four sensor values. Fetched intervals are stored in the local SQLite database.`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchNoRecord, "no-record", false, "Don't store fetched intervals in the database")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 2*time.Minute, "Give up after this long")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Fetch started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

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

	ctx, cancel := context.WithTimeout(cmd.Context(), fetchTimeout)
	defer cancel()

	account, err := client.Account(ctx)
	if err != nil {
		return fmt.Errorf("looking up account: %w", err)
	}
	fmt.Printf("✓ Logged in, account %s (%s)\n", account.ID, account.Number)
	if !account.BillingStart.IsZero() {
		fmt.Printf("  Billing period started %s (%s)\n",
			account.BillingStart.Format("2006-01-02"), humanize.Time(account.BillingStart))
	}

	coord := coordinator.New(client, coordinator.DefaultInterval, log)
	if err := coord.Refresh(ctx); err != nil {
		return err
	}
	usage := coord.Snapshot()
	fmt.Printf("✓ Fetched %d intervals\n", len(usage.Electricity))

	fmt.Println()
	fmt.Println("----------------------------------------------------------------")
	fmt.Printf("%-36s  %12s  %s\n", "Sensor", "Value", "Period")
	fmt.Println("----------------------------------------------------------------")
	for _, v := range sensor.NewAll(coord, account) {
		st := v.State()
		value := "unknown"
		if st.Known {
			value = formatReading(st.Value, v.Unit)
		}
		period := ""
		if st.Attributes != nil {
			period = fmt.Sprintf("%s → %s",
				st.Attributes.StartTime.Format("2006-01-02 15:04"), st.Attributes.EndTime.Format("2006-01-02 15:04"))
		}
		fmt.Printf("%-36s  %12s  %s\n", v.UniqueID(), value, period)
	}
	fmt.Println("----------------------------------------------------------------")

	if fetchNoRecord {
		return nil
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// Duplicates are skipped by the UNIQUE constraint
	n, err := db.RecordUsage(account.ID, usage)
	if err != nil {
		return fmt.Errorf("recording usage: %w", err)
	}
	fmt.Printf("✓ Stored %d new intervals (%d already on file)\n", n, len(usage.Electricity)-n)
	return nil
}

// formatReading prints money with two decimals and energy with thousands separators
func formatReading(value float64, unit string) string {
	if unit == "$" {
		return "$" + humanize.FormatFloat("#,###.##", value)
	}
	return humanize.CommafWithDigits(value, 2) + " " + unit
}
