package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jgoulah/bchydro/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without contacting BC Hydro",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var (
	initUsername string
	initPassword string
	initBroker   string
	initForce    bool
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Writes a configuration file at the --config path (YAML, or TOML when the path ends
in .toml). The password can also be supplied later through BCHYDRO_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().StringVar(&initUsername, "username", "", "BC Hydro username (email)")
	configInitCmd.Flags().StringVar(&initPassword, "password", "", "BC Hydro password")
	configInitCmd.Flags().StringVar(&initBroker, "mqtt-broker", "", "MQTT broker host:port; enables MQTT discovery")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configValidateCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}

	fmt.Printf("✓ %s is valid\n", getConfigPath())
	fmt.Printf("  BC Hydro user:  %s\n", cfg.BCHydro.Username)
	if cfg.MQTT.Enabled {
		fmt.Printf("  MQTT:           %s (discovery prefix %q, topic prefix %q)\n",
			cfg.MQTT.Broker, cfg.GetDiscoveryPrefix(), cfg.GetTopicPrefix())
	}
	if cfg.NATS.Enabled {
		fmt.Printf("  NATS:           %s\n", cfg.NATS.URL)
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics:        %s/metrics\n", cfg.GetMetricsListen())
	}
	fmt.Printf("  Database:       %s\n", getDBPath(cfg))
	if !cfg.MQTT.Enabled && !cfg.NATS.Enabled && !cfg.Metrics.Enabled {
		fmt.Println("⚠ No output is enabled; 'bchydro run' will only record history")
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := &config.Config{
		BCHydro: config.BCHydroConfig{
			Username: initUsername,
			Password: initPassword,
		},
	}
	if initBroker != "" {
		cfg.MQTT = config.MQTTConfig{
			Enabled:         true,
			Broker:          initBroker,
			TopicPrefix:     cfg.GetTopicPrefix(),
			DiscoveryPrefix: cfg.GetDiscoveryPrefix(),
		}
	}

	if err := saveConfig(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Printf("✓ Wrote %s\n", path)
	if err := cfg.Validate(); err != nil {
		fmt.Printf("⚠ Still incomplete: %v\n", err)
	}
	return nil
}
