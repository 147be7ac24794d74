package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jgoulah/bchydro/internal/bchydro"
	"github.com/jgoulah/bchydro/internal/coordinator"
	"github.com/jgoulah/bchydro/internal/database"
	"github.com/jgoulah/bchydro/internal/logging"
	"github.com/jgoulah/bchydro/internal/metrics"
	"github.com/jgoulah/bchydro/internal/sensor"
	"github.com/jgoulah/bchydro/pkg/models"
)

var runNoRecord bool

// accountRetry spaces account lookups while the portal is unreachable
const accountRetry = time.Minute

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll BC Hydro and keep the sensors up to date",
	Long: `Runs until interrupted. Usage is refreshed every 6 hours; after each refresh the four
sensors are republished to Home Assistant, exported to Prometheus and the fetched intervals
are recorded in the database.`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&runNoRecord, "no-record", false, "Don't record fetched intervals in the database")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	account, err := waitForAccount(ctx, client.Account, accountRetry, log)
	if err != nil {
		return fmt.Errorf("looking up account: %w", err)
	}
	log.WithField("account", account.ID).Info("Found BC Hydro account")

	coord := coordinator.New(client, coordinator.DefaultInterval, log)
	if err := coord.Refresh(ctx); err != nil {
		var authErr *bchydro.AuthError
		if errors.As(err, &authErr) {
			return err
		}
		// Sensors start out unknown and the next tick tries again
		log.WithError(err).Warn("Initial refresh failed")
	}

	views := sensor.NewAll(coord, account)

	pub, natsTransport, err := newPublisher(cfg, account, log)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	if natsTransport != nil {
		log.AddHook(logging.NewHook(natsTransport.Conn(), account.ID))
	}
	if pub != nil {
		defer pub.Close()
		if err := pub.Announce(views); err != nil {
			return err
		}
	}

	var db *database.DB
	if !runNoRecord {
		db, err = openDB(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
	}

	update := func() {
		st := coord.Status()
		if db != nil && st.LastUpdateSuccess {
			recordSnapshot(db, account, coord.Snapshot(), log)
		}
		if pub == nil {
			return
		}
		if err := pub.PublishAvailability(account, st.LastUpdateSuccess); err != nil {
			log.WithError(err).Warn("Publishing availability failed")
		}
		if err := pub.PublishStates(ctx, views); err != nil {
			log.WithError(err).Warn("Publishing sensor states failed")
		}
	}
	update()
	removeListener := coord.AddListener(update)
	defer removeListener()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		coord.Run(ctx)
		return nil
	})
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			metrics.NewCollector(views, coord),
		)
		g.Go(func() error {
			return metrics.Serve(ctx, cfg.GetMetricsListen(), metrics.Handler(reg), log)
		})
	}

	err = g.Wait()
	log.Info("Shutting down")

	if pub != nil {
		if err := pub.PublishAvailability(account, false); err != nil {
			log.WithError(err).Warn("Publishing availability failed")
		}
	}
	return err
}

// waitForAccount retries the account lookup until it succeeds. Rejected credentials and
// cancellation end the wait.
func waitForAccount(ctx context.Context, lookup func(context.Context) (models.Account, error),
	retry time.Duration, log logrus.FieldLogger) (models.Account, error) {
	for {
		account, err := lookup(ctx)
		if err == nil {
			return account, nil
		}
		var authErr *bchydro.AuthError
		if errors.As(err, &authErr) {
			return models.Account{}, err
		}
		if ctx.Err() != nil {
			return models.Account{}, ctx.Err()
		}

		log.WithError(err).WithField("retry_in", retry).Warn("Account lookup failed")
		select {
		case <-ctx.Done():
			return models.Account{}, ctx.Err()
		case <-time.After(retry):
		}
	}
}

func recordSnapshot(db *database.DB, account models.Account, usage *models.DailyUsage, log logrus.FieldLogger) {
	n, err := db.RecordUsage(account.ID, usage)
	if err != nil {
		log.WithError(err).Warn("Recording usage failed")
		return
	}
	log.WithField("new_intervals", n).Debug("Recorded usage")
}
