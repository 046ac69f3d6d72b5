package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/castid/internal"
	"github.com/hbomb79/castid/pkg/logger"
)

var log = logger.Get("Bootstrap")

// main() is the entry point to the program, from here we
// load the users castid configuration, construct the services
// and run them until an interrupt signal is received.
func main() {
	configPath := flag.String("config", os.Getenv("CASTID_CONFIG"), "path to the YAML configuration file (optional, environment variables are always read)")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		if usage, err := internal.ConfigUsage(); err == nil {
			fmt.Fprintln(flag.CommandLine.Output(), "\n"+usage)
		}
	}
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	}

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	castid, err := internal.New(*config)
	if err != nil {
		log.Emit(logger.FATAL, "Failed to initialise castid: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := castid.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Emit(logger.FATAL, "castid stopped due to error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "castid has shutdown\n")
}
