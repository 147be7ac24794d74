package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jgoulah/bchydro/internal/config"
	"github.com/jgoulah/bchydro/internal/coordinator"
	"github.com/jgoulah/bchydro/internal/publisher"
	"github.com/jgoulah/bchydro/internal/sensor"
	"github.com/jgoulah/bchydro/pkg/models"
)

var publishTimeout time.Duration

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Fetch once and publish the sensors to Home Assistant",
	Long: `Fetches the current usage from BC Hydro, announces the four sensors via MQTT discovery
and publishes their state once. Suitable for running from cron instead of 'bchydro run'.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().DurationVar(&publishTimeout, "timeout", 2*time.Minute, "Give up after this long")
	rootCmd.AddCommand(publishCmd)
}

// newPublisher connects every enabled transport. The NATS transport is returned separately
// so the caller can attach the log hook; it is nil when NATS is disabled.
func newPublisher(cfg *config.Config, account models.Account, log logrus.FieldLogger) (*publisher.Publisher, *publisher.NATSTransport, error) {
	var transports []publisher.Transport
	var natsTransport *publisher.NATSTransport

	if cfg.MQTT.Enabled {
		will := publisher.AvailabilityTopic(cfg.GetTopicPrefix(), account)
		t, err := publisher.NewMQTT(cfg.MQTT, will, log)
		if err != nil {
			return nil, nil, err
		}
		transports = append(transports, t)
	}
	if cfg.NATS.Enabled {
		t, err := publisher.NewNATS(cfg.NATS, log)
		if err != nil {
			for _, other := range transports {
				other.Close()
			}
			return nil, nil, err
		}
		natsTransport = t
		transports = append(transports, t)
	}

	if len(transports) == 0 {
		return nil, nil, nil
	}

	return publisher.New(publisher.Multi(transports...), cfg.GetTopicPrefix(), cfg.GetDiscoveryPrefix(), log), natsTransport, nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	if !cfg.MQTT.Enabled && !cfg.NATS.Enabled {
		return fmt.Errorf("neither mqtt nor nats is enabled in %s", getConfigPath())
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	client, err := newClient(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), publishTimeout)
	defer cancel()

	account, err := client.Account(ctx)
	if err != nil {
		return fmt.Errorf("looking up account: %w", err)
	}

	coord := coordinator.New(client, coordinator.DefaultInterval, log)
	if err := coord.Refresh(ctx); err != nil {
		return err
	}

	pub, _, err := newPublisher(cfg, account, log)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	views := sensor.NewAll(coord, account)
	if err := pub.Announce(views); err != nil {
		return err
	}
	if err := pub.PublishStates(ctx, views); err != nil {
		return err
	}
	if err := pub.PublishAvailability(account, true); err != nil {
		return err
	}

	fmt.Printf("✓ Published %d sensors for account %s\n", len(views), account.ID)
	return nil
}
