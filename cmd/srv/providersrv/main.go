package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/unit-tools/traefik-unit-provider/pkg/configstore"
	"github.com/unit-tools/traefik-unit-provider/pkg/logging"
	"github.com/unit-tools/traefik-unit-provider/pkg/provider"
	"github.com/unit-tools/traefik-unit-provider/pkg/systemd"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	TraefikOutDir string `short:"o" long:"traefik-out-dir" env:"TRAEFIK_OUT_DIR" description:"directory for generated dynamic configuration files"`
	ConfigFile    string `short:"c" long:"config" description:"path to YAML configuration file"`
	StatusAddr    string `long:"status-addr" description:"listen address for the HTTP status endpoint"`
	LogLevel      string `long:"log-level" description:"log level: debug, info, warn or error"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	config := &provider.Config{}
	if opts.ConfigFile != "" {
		config, err = provider.LoadConfigFromFile(opts.ConfigFile)
		if err != nil {
			fmt.Printf("Configuration loading failed: %v", err)
			os.Exit(1)
		}
	} else {
		config.Provider.OutputDir = provider.DefaultOutputDir
		config.Provider.LogLevel = "info"
	}

	// Explicit flags win over the configuration file.
	if opts.TraefikOutDir != "" {
		config.Provider.OutputDir = opts.TraefikOutDir
	}
	if opts.StatusAddr != "" {
		config.Provider.StatusAddr = opts.StatusAddr
	}
	if opts.LogLevel != "" {
		config.Provider.LogLevel = opts.LogLevel
	}

	if err := provider.ValidateConfig(config); err != nil {
		fmt.Printf("Configuration validation failed: %v", err)
		os.Exit(1)
	}

	zapLogger, err := logging.NewZapAdapter(config.Provider.LogLevel)
	if err != nil {
		fmt.Printf("Logger setup failed: %v", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	logger := logging.NewLogger(logPrefix("provider"), logging.LogFuncs{
		Debugf: zapLogger.Debugf,
		Infof:  zapLogger.Infof,
		Warnf:  zapLogger.Warnf,
		Errorf: zapLogger.Errorf,
	})

	logger.Infof("opts: %+v", opts)
	logger.Infof("Starting...")

	ctx := context.Background()

	manager, err := systemd.NewDBusManager(ctx, logger)
	if err != nil {
		logger.Errorf("Failed to connect to supervisor: %v", err)
		os.Exit(1)
	}
	defer manager.Close()

	p, err := provider.NewProvider(provider.Options{
		OutputDir:  config.Provider.OutputDir,
		StatusAddr: config.Provider.StatusAddr,
	}, manager, configstore.NewOSStore(), logger)
	if err != nil {
		logger.Errorf("Failed to create provider: %v", err)
		os.Exit(1)
	}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT)
	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGTERM)

	if err := p.Run(ctx, sigint, sigterm); err != nil {
		logger.Errorf("Provider failed: %v", err)
		os.Exit(1)
	}
}
