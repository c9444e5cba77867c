package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/config"
	"github.com/tributary-ai/llm-gateway/internal/gateway"
	"github.com/tributary-ai/llm-gateway/internal/server"
)

// Application wires configuration, the gateway manager, and the HTTP
// surface together into a single runnable process.
type Application struct {
	doc    *config.Document
	mgr    *gateway.Manager
	server *server.Server
	logger *logrus.Logger
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	doc, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := config.NewLogger(doc.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	mgr := gateway.New(logger)
	if err := config.Apply(doc, mgr, logger); err != nil {
		return nil, fmt.Errorf("failed to apply configuration: %w", err)
	}
	if err := mgr.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}

	serverConfig := &server.ServerConfig{
		Port:           doc.Server.Port,
		ReadTimeout:    doc.Server.ReadTimeout,
		WriteTimeout:   doc.Server.WriteTimeout,
		MaxHeaderBytes: doc.Server.MaxHeaderBytes,
		Security:       doc.Security,
	}

	serverInstance, err := server.NewServer(mgr, serverConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Application{
		doc:    doc,
		mgr:    mgr,
		server: serverInstance,
		logger: logger,
	}, nil
}

// Run starts the application and blocks until a shutdown signal arrives.
func (app *Application) Run() error {
	app.logger.Info("starting llm gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.doc.Server.Port).Info("http server starting")
		if err := app.server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	app.logger.Info("starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := app.mgr.Shutdown(); err != nil {
		app.logger.WithError(err).Error("gateway shutdown error")
		return fmt.Errorf("gateway shutdown failed: %w", err)
	}

	app.logger.Info("graceful shutdown completed")
	return nil
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  LLM_GATEWAY_PORT             Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  LLM_GATEWAY_LOG_LEVEL        Log level (trace,debug,info,warn,error)\n")
	fmt.Fprintf(os.Stderr, "  LLM_GATEWAY_LOG_FORMAT       Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  LLM_GATEWAY_ROUTING_PRIORITY Default routing priority\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *version {
		fmt.Printf("llm-gateway v1.0.0\n")
		fmt.Printf("Build Date: %s\n", time.Now().Format("2006-01-02"))
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}
