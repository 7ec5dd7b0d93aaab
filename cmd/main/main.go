package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CTAG07/Genlisea/pkg/hmm"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const configPath = "./config.json"

// Server wires the model registry and the API surfaces onto one mux.
type Server struct {
	config     *Config
	db         *sql.DB
	logger     *slog.Logger
	store      *hmm.Store
	authAPI    *AuthAPI
	modelsAPI  *ModelsAPI
	analyzeAPI *AnalyzeAPI
	serverAPI  *ServerAPI
	apiMux     *http.ServeMux
}

func NewServer(config *Config, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {

	store, err := hmm.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("error creating model store: %w", err)
	}
	store.SetLogger(logger)

	authAPI, err := NewAuthAPI(db, logger)
	if err != nil {
		return nil, fmt.Errorf("error creating auth layer: %w", err)
	}
	modelsAPI := NewModelsAPI(store, logger)
	analyzeAPI := NewAnalyzeAPI(store, config.Server.DefaultThreshold, logger)
	serverAPI := NewServerAPI(config, configPath, actionChan, store, logger)

	server := &Server{
		config:     config,
		db:         db,
		logger:     logger,
		store:      store,
		authAPI:    authAPI,
		modelsAPI:  modelsAPI,
		analyzeAPI: analyzeAPI,
		serverAPI:  serverAPI,
		apiMux:     http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.modelsAPI.RegisterRoutes(apiMux)
	server.analyzeAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	server.apiMux.Handle("/api/", server.authAPI.Authenticate(apiMux))

	return server, nil
}

func main() {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan // Wait for a signal
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			break
		}

		if action == actionRestart {
			baseLogger.Info("--- Server Restarting ---")
			continue
		} else {
			break
		}
	}

	baseLogger.Info("Genlisea has shut down.")
}

// run hosts the API server, and returns whenever it is shut down or restarted
func run(actionChan chan string) (string, error) {

	config, err := LoadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}

	var logLevel slog.Level
	switch strings.ToLower(config.Server.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	logger.Info("Starting server cycle...")

	if err = os.MkdirAll(config.Server.DataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := initDB(config.Server.DatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}

	if err = hmm.SetupSchema(db); err != nil {
		logger.Error("Failed to setup model schema", "error", err)
	}
	if err = setupAuthSchema(db); err != nil {
		logger.Error("Failed to setup auth schema", "error", err)
	}

	apiHttpServer := &http.Server{Addr: config.Server.ApiAddr}

	server, err := NewServer(config, logger, db, actionChan)
	if err != nil {
		_ = db.Close()
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	apiHttpServer.Handler = server.apiMux

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")

	server.store.Close()
	server.authAPI.Close()
	logger.Info("Closing database connection.")
	if err = db.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
	}

	return action, nil
}
