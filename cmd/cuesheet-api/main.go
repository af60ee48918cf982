package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/auth"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/config"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/database"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/identity"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/logging"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/server"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cuesheet-api",
		Short: "Collaborative cue sheet backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newExportCommand(), newListCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("status-seed-file", defaults.GetString("registry.seed_file"), "JSONC file with the default status registry")
	cmd.PersistentFlags().Int("max-rows-per-project", defaults.GetInt("store.max_rows_per_project"), "Row allowance per project (0 for unlimited)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "registry.seed_file", "status-seed-file")
	bindFlag(cmd, "store.max_rows_per_project", "max-rows-per-project")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return err
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("cuesheet")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// openStore loads configuration, builds the logger and opens the document store.
// The returned cleanup closes the database and flushes the logger.
func openStore(requireAuth bool) (config.AppConfig, *zap.Logger, *database.Handle, *docstore.Store, func(), error) {
	appConfig, err := config.Load(viper.GetViper(), requireAuth)
	if err != nil {
		return config.AppConfig{}, nil, nil, nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return config.AppConfig{}, nil, nil, nil, nil, err
	}

	handle, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		_ = logger.Sync()
		return config.AppConfig{}, nil, nil, nil, nil, err
	}
	cleanup := func() {
		if err := handle.Close(); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
		_ = logger.Sync()
	}

	store, err := docstore.NewStore(docstore.StoreConfig{
		Database:          handle.DB,
		Clock:             time.Now,
		IDProvider:        docstore.NewUUIDProvider(),
		Logger:            logger,
		MaxRowsPerProject: appConfig.MaxRowsPerProject,
	})
	if err != nil {
		cleanup()
		return config.AppConfig{}, nil, nil, nil, nil, err
	}
	return appConfig, logger, handle, store, cleanup, nil
}

func runServer(ctx context.Context) error {
	appConfig, logger, handle, store, cleanup, err := openStore(true)
	if err != nil {
		return err
	}
	defer cleanup()

	seedStatuses, err := registry.LoadSeedFile(appConfig.StatusSeedFile)
	if err != nil {
		return err
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	identities, err := identity.NewService(identity.ServiceConfig{
		Database:    handle.DB,
		Clock:       time.Now,
		Logger:      logger,
		AdminEmails: appConfig.AdminEmails,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:           store,
		Validator:       validator,
		Actors:          identities,
		Logger:          logger,
		AllowedOrigins:  appConfig.AllowedOrigins,
		ViewIdleTimeout: appConfig.ViewIdleTimeout,
		MaxViewsPerUser: appConfig.MaxViewsPerUser,
		Editor: server.EditorDefaults{
			UndoCapacity:     appConfig.UndoCapacity,
			SeedStatuses:     seedStatuses,
			DefaultFrameRate: appConfig.DefaultFrameRate,
		},
	})
	if err != nil {
		return err
	}
	defer handler.Close()

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress), zap.String("database", appConfig.DatabasePath))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		handler.Close()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
