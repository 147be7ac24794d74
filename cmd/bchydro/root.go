package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jgoulah/bchydro/internal/bchydro"
	"github.com/jgoulah/bchydro/internal/config"
	"github.com/jgoulah/bchydro/internal/database"
	"github.com/jgoulah/bchydro/internal/logging"
)

var (
	cfgFile  string
	dbPath   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "bchydro",
	Short: "Expose BC Hydro usage and cost as Home Assistant sensors",
	Long: `bchydro polls the BC Hydro customer portal for electricity usage and cost and exposes
the latest reading and the billing-period estimate as Home Assistant sensors over MQTT
discovery (or NATS), as Prometheus gauges, and as history in a local SQLite database.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, .yaml or .toml (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default is ./data.db)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// getDBPath returns the database file path, preferring the flag over the config
func getDBPath(cfg *config.Config) string {
	if dbPath != "" {
		return dbPath
	}
	return cfg.GetDatabasePath()
}

// loadConfig loads the configuration file and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// saveConfig saves the configuration file
func saveConfig(cfg *config.Config) error {
	return config.Save(getConfigPath(), cfg)
}

// loadValidConfig loads the configuration and rejects it before anything is contacted
func loadValidConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", getConfigPath(), err)
	}
	return cfg, nil
}

// newLogger builds the logger from the config
func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	return logging.New(cfg.GetLogLevel(), cfg.Log.Format)
}

// newClient creates the BC Hydro client from the config
func newClient(cfg *config.Config, log logrus.FieldLogger) (*bchydro.Client, error) {
	opts := []bchydro.Option{bchydro.WithLogger(log)}
	if cfg.BCHydro.BaseURL != "" {
		opts = append(opts, bchydro.WithBaseURL(cfg.BCHydro.BaseURL))
	}
	client, err := bchydro.New(cfg.BCHydro.Username, cfg.BCHydro.Password, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating BC Hydro client: %w", err)
	}
	return client, nil
}

// openDB opens the database connection
func openDB(cfg *config.Config) (*database.DB, error) {
	path := getDBPath(cfg)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	return database.New(path)
}
