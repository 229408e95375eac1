// Command tt is the offline-first TimeTracker client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/timetracker-dev/tt/internal/config"
	"github.com/timetracker-dev/tt/internal/engine"
	"github.com/timetracker-dev/tt/internal/storage"
	"github.com/timetracker-dev/tt/internal/storage/sqlite"
)

var rootCmd = &cobra.Command{
	Use:     "tt",
	Short:   "Offline-first TimeTracker client",
	Version: engine.Version,
	Long: `tt records time entries locally and reconciles them with the
TimeTracker API whenever connectivity allows.

Every mutation lands in a durable local queue first, so tracking keeps
working on planes, trains, and flaky hotel wifi. Run 'tt sync' to drain
the queue by hand, or 'tt daemon' to keep it draining in the background.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("config", "", "config file (default ~/.tt/config.toml)")
	rootCmd.PersistentFlags().String("store", "", "offline store path (overrides config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides config)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("store", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("api-url", rootCmd.PersistentFlags().Lookup("api-url"))
}

// loadConfig resolves the effective configuration from file, env, and
// flags.
func loadConfig() config.Config {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if v := viper.GetString("store"); v != "" {
		cfg.Storage.Path = v
	}
	if v := viper.GetString("api-url"); v != "" {
		cfg.API.BaseURL = strings.TrimRight(v, "/")
	}
	return cfg
}

// openEngine opens the offline store and initializes the engine around
// it. One-shot commands keep engine logging quiet; the daemon passes its
// own logger. Callers own eng.Close().
func openEngine(logger *log.Logger) (*engine.Engine, storage.Store, config.Config) {
	cfg := loadConfig()

	driver := cfg.Storage.Driver
	if driver == "" {
		driver = sqlite.DefaultDriver
	}
	if driver == "libsql" && !sqlite.HasLibSQL() {
		fmt.Fprintf(os.Stderr, "Error opening store: this build has no libsql driver (requires cgo)\n")
		os.Exit(1)
	}
	store, err := sqlite.OpenDriver(driver, cfg.Storage.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}

	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	eng := engine.New(store, &engine.Config{
		BaseURL:        cfg.API.BaseURL,
		RequestTimeout: cfg.Sync.RequestTimeout.Std(),
		ProbeInterval:  cfg.Sync.ProbeInterval.Std(),
		WakeInterval:   cfg.Sync.WakeInterval.Std(),
		Logger:         logger,
	})
	if err := eng.Initialize(context.Background()); err != nil {
		store.Close()
		fmt.Fprintf(os.Stderr, "Error initializing engine: %v\n", err)
		os.Exit(1)
	}
	return eng, store, cfg
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
