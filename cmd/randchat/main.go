// randchat is a line-based client for the anonymous random chat service.
// Configuration comes from the environment (see internal/app/config.go);
// flags override it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/aussiebroadwan/randchat/internal/app"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := app.LoadConfig()

	flagSet := pflag.NewFlagSet("randchat", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Domain, "domain", cfg.Domain, "chat service host[:port]")
	flagSet.BoolVar(&cfg.SSL, "ssl", cfg.SSL, "use https and wss")
	flagSet.StringVar(&cfg.Secret, "secret", cfg.Secret, "account secret (a new account is created when empty)")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flagSet.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json, text")
	flagSet.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "append logs to this file instead of stderr")
	flagSet.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve prometheus metrics on this address")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintln(os.Stderr, "Usage: randchat [flags]")
		flagSet.PrintDefaults()
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, os.Stdin, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	runErr := application.Run(ctx)
	if err := application.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
