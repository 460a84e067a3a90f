// Package cmd defines the CLI commands for the journal harvester.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/app"
	"github.com/JakeFAU/journal-harvester/internal/config"
	"github.com/JakeFAU/journal-harvester/internal/logging"
	"github.com/JakeFAU/journal-harvester/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what commands need from the service container. Tests inject fakes.
// Commands close it themselves: cobra skips post-run hooks when RunE fails.
type App interface {
	Close()
	Logger() *zap.Logger
	Orchestrator() *pipeline.Orchestrator
	Targets() []pipeline.Target
}

// newApp is the application factory; a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates the root command with its own Viper instance.
func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile, envFile string

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests journal issues into annotation-safe datasets.",
		Long: `harvester fetches the article listing of a journal issue, optionally
visits every article's detail page for its abstract, and merges the result
into the persisted dataset without losing annotations made by downstream tools.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the App once flags, .env and the config file are known.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
			}
			if noDetails, err := cmd.Flags().GetBool("no-details"); err == nil && noDetails {
				v.Set("harvest.details", false)
			}
			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")
	cmd.AddCommand(newHarvestCmd(v))
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// bindFlag binds a flag to a Viper key, panicking on programmer error.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// Execute is the main entry point. It exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
