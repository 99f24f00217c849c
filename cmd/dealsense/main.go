package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/dealsense/internal/profile"
	"github.com/hrygo/dealsense/plugin/decision"
	"github.com/hrygo/dealsense/plugin/discovery"
	"github.com/hrygo/dealsense/plugin/protocol"
	"github.com/hrygo/dealsense/server"
	"github.com/hrygo/dealsense/server/orchestrator"
	"github.com/hrygo/dealsense/store"
	"github.com/hrygo/dealsense/store/db"
)

const greetingBanner = `dealsense - automated price negotiation`

var rootCmd = &cobra.Command{
	Use:   "dealsense",
	Short: "An automated multi-round price negotiation service",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		instanceProfile := &profile.Profile{
			Mode:            viper.GetString("mode"),
			Addr:            viper.GetString("addr"),
			Port:            viper.GetInt("port"),
			Data:            viper.GetString("data"),
			Driver:          viper.GetString("driver"),
			DSN:             viper.GetString("dsn"),
			RegistryURL:     viper.GetString("registry-url"),
			DecisionAPIKey:  viper.GetString("decision-api-key"),
			DecisionBaseURL: viper.GetString("decision-base-url"),
			DecisionModel:   viper.GetString("decision-model"),
			Version:         profile.Version,
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			return fmt.Errorf("failed to create db driver: %w", err)
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}

		finder := discovery.NewService(instanceProfile.RegistryURL)
		engine := decision.NewEngine(decision.Config{
			APIKey:  instanceProfile.DecisionAPIKey,
			BaseURL: instanceProfile.DecisionBaseURL,
			Model:   instanceProfile.DecisionModel,
		})
		if !instanceProfile.IsDecisionEnabled() {
			slog.Warn("no decision backend configured, negotiations use safe defaults and user preferences only")
		}

		orch := orchestrator.New(
			storeInstance,
			finder,
			func() orchestrator.SellerConn { return protocol.NewClient() },
			engine,
			instanceProfile,
			nil,
		)
		if _, err := orch.RecoverSessions(ctx); err != nil {
			slog.Warn("session recovery failed", "error", err)
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance, orch)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-sigChan
			slog.Info("received signal, shutting down", "signal", sig.String())
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer shutdownCancel()
			s.Shutdown(shutdownCtx)
			cancel()
		}()

		fmt.Println(greetingBanner)
		fmt.Printf("version %s, listening on %s:%d\n", instanceProfile.Version, instanceProfile.Addr, instanceProfile.Port)

		if err := s.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		<-ctx.Done()
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8230)
	viper.SetDefault("driver", "sqlite")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server, can be "prod", "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "binding address for the server")
	rootCmd.PersistentFlags().Int("port", 8230, "binding port for the server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", `database driver, "sqlite" or "postgres"`)
	rootCmd.PersistentFlags().String("dsn", "", "database connection string")
	rootCmd.PersistentFlags().String("registry-url", "", "seller registry base URL")
	rootCmd.PersistentFlags().String("decision-api-key", "", "API key for the reasoning backend")
	rootCmd.PersistentFlags().String("decision-base-url", "", "base URL for the reasoning backend")
	rootCmd.PersistentFlags().String("decision-model", "", "model used by the reasoning backend")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("dealsense")
	viper.AutomaticEnv()
}
