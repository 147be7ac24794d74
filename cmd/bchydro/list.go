package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgoulah/bchydro/pkg/models"
)

var (
	listAccount string
	listSince   string
	listLimit   int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored usage data",
	Long:  `Displays the electricity intervals and the latest billing-period estimate stored in the database.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listAccount, "account", "", "Account id (evpSlid) to list (default: look up with the configured credentials)")
	listCmd.Flags().StringVar(&listSince, "since", "", "Only show data since this date (YYYY-MM-DD or relative like 7d)")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Limit number of records to show (0 = no limit)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	account := listAccount
	if account == "" {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("--account not given and config is incomplete: %w", err)
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		client, err := newClient(cfg, log)
		if err != nil {
			return err
		}
		acc, err := client.Account(cmd.Context())
		if err != nil {
			return fmt.Errorf("looking up account: %w", err)
		}
		account = acc.ID
	}

	var since time.Time
	if listSince != "" {
		if since, err = parseDate(listSince); err != nil {
			return fmt.Errorf("parsing --since date: %w", err)
		}
	}

	// Open database
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	data, err := db.ListIntervals(account)
	if err != nil {
		return fmt.Errorf("listing data for %s: %w", account, err)
	}
	data = filterIntervals(data, since, listLimit)

	if len(data) == 0 {
		fmt.Printf("No data found for %s\n", account)
	} else {
		fmt.Printf("\n%s Usage Data:\n", account)
		fmt.Println("------------------------------------------")
		fmt.Printf("%-16s  %10s  %10s\n", "Start", "kWh", "Cost")
		fmt.Println("------------------------------------------")

		var totalKWh, totalCost float64
		for _, record := range data {
			cost := "-"
			if record.Cost != nil {
				cost = fmt.Sprintf("%.2f", *record.Cost)
				totalCost += *record.Cost
			}
			fmt.Printf("%-16s  %10.2f  %10s\n", record.Start.Local().Format("2006-01-02 15:04"), record.Consumption, cost)
			totalKWh += record.Consumption
		}

		fmt.Println("------------------------------------------")
		fmt.Printf("Total: %s kWh, $%s (%d records)\n",
			humanize.CommafWithDigits(totalKWh, 2), humanize.CommafWithDigits(totalCost, 2), len(data))
	}

	est, err := db.LatestRateEstimate(account)
	if err != nil {
		return fmt.Errorf("reading rate estimate: %w", err)
	}
	if est != nil {
		fmt.Printf("\nBilling period estimate: %s, %s (to date: %s, %s)\n",
			formatAmount(est.EstimatedConsumption, "kWh"), formatAmount(est.EstimatedCost, "$"),
			formatAmount(est.ConsumptionToDate, "kWh"), formatAmount(est.CostToDate, "$"))
	}

	return nil
}

// formatAmount prints amounts the API did not report as "unknown"
func formatAmount(v *float64, unit string) string {
	if v == nil {
		return "unknown"
	}
	return formatReading(*v, unit)
}

// filterIntervals drops records before since and keeps at most limit (0 = all)
func filterIntervals(data []models.Interval, since time.Time, limit int) []models.Interval {
	if !since.IsZero() {
		filtered := make([]models.Interval, 0, len(data))
		for _, record := range data {
			if record.Start.Before(since) {
				continue
			}
			filtered = append(filtered, record)
		}
		data = filtered
	}
	if limit > 0 && len(data) > limit {
		data = data[:limit]
	}
	return data
}

// parseDate parses a date string in either YYYY-MM-DD format or relative format (e.g., "7d")
func parseDate(dateStr string) (time.Time, error) {
	// Try absolute date format first
	t, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
	if err == nil {
		return t, nil
	}

	// Try relative format (e.g., "7d" for 7 days ago)
	if len(dateStr) > 1 && dateStr[len(dateStr)-1] == 'd' {
		daysStr := dateStr[:len(dateStr)-1]
		var days int
		if _, err := fmt.Sscanf(daysStr, "%d", &days); err == nil {
			return time.Now().AddDate(0, 0, -days), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date format: %s (use YYYY-MM-DD or Nd for N days ago)", dateStr)
}
