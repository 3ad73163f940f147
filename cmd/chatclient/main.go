package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"chatclient/internal/app"
	"chatclient/internal/config"
	"chatclient/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

type options struct {
	configPath  string
	server      string
	username    string
	password    string
	locale      string
	metricsAddr string
	logLevel    string
	logFormat   string
}

func parseFlags(args []string, stderr io.Writer) (*options, *pflag.FlagSet, error) {
	var opts options
	flagSet := pflag.NewFlagSet("chatclient", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", os.Getenv("CHATCLIENT_CONFIG_FILE"), "path to a JSON or YAML config file")
	flagSet.StringVar(&opts.server, "server", "", "chat server base URL")
	flagSet.StringVarP(&opts.username, "username", "u", "", "log in as this user when no session is recovered")
	flagSet.StringVarP(&opts.password, "password", "p", "", "password for --username")
	flagSet.StringVar(&opts.locale, "locale", "", "notice language (zh-CN, en-US)")
	flagSet.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "text or json")

	if err := flagSet.Parse(args); err != nil {
		return nil, flagSet, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, flagSet, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return &opts, flagSet, nil
}

// loadConfig resolves file > environment > defaults, then applies the flags
// that were set on the command line.
func loadConfig(opts *options, flagSet *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
	if err != nil {
		if cfg == nil {
			return nil, err
		}
		log.Printf("config file ignored: %v", err)
	}

	if flagSet.Changed("server") {
		cfg.Server.BaseURL = opts.server
	}
	if flagSet.Changed("locale") {
		cfg.Locale.Tag = opts.locale
	}
	if flagSet.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	// STEP 1: flags and configuration
	opts, flagSet, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	cfg, err := loadConfig(opts, flagSet)
	if err != nil {
		return err
	}

	// STEP 2: logging
	slogger, err := logger.SetupDefault(stderr, cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	// STEP 3: application
	console := newConsole(stdout)
	application, err := app.NewApplication(cfg, app.Options{
		Logger:   slogger,
		Notifier: console,
	})
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	console.app = application

	recovered, err := application.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := application.Stop(shutdownCtx); err != nil {
			slogger.Warn("shutdown error", "error", err)
		}
	}()

	// STEP 4: initial login
	switch {
	case recovered:
		console.printf("session recovered for %s\n", application.Identity().Username)
	case opts.username != "":
		if err := application.Login(opts.username, opts.password); err != nil {
			slogger.Warn("login failed", "error", err)
		}
	default:
		console.printf("not logged in; use /login <username> <password> or /help\n")
	}

	// STEP 5: command loop until EOF, /quit or a signal
	return console.serve(ctx, stdin)
}
