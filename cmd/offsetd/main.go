// Command offsetd serves labware offset calibration runs over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"offsetcore/internal/config"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("offsetd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv(config.FileEnv), "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "offsetd: %v\n", err)
		return 1
	}
	if err := run(ctx, cfg, nil); err != nil {
		_, _ = fmt.Fprintf(stderr, "offsetd: %v\n", err)
		return 1
	}
	return 0
}
