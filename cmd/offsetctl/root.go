package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"offsetcore/internal/config"
	"offsetcore/internal/core"
	"offsetcore/pkg/domain"
)

type options struct {
	configPath string
	server     string
	output     string
	timeout    time.Duration

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "offsetctl",
		Short:        "Manage labware offsets and calibration runs",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			switch opts.output {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("unknown output format %q", opts.output)
			}
			load := config.Load
			if opts.configPath != "" {
				load = func() (*config.Config, error) { return config.LoadFile(opts.configPath) }
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file (defaults to $"+config.FileEnv+")")
	flags.StringVar(&opts.server, "server", "http://localhost:8088", "offsetd base URL")
	flags.StringVarP(&opts.output, "output", "o", "table", "output format: table, json or yaml")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		newSeedCmd(opts),
		newListCmd(opts),
		newDeleteCmd(opts),
		newRunsCmd(opts),
		newStartCmd(opts),
		newApplyCmd(opts),
		newExportCmd(opts),
	)
	return root
}

// openRepository opens the offset storage named by the loaded config. The
// robot driver is served by offsetd, so offsetctl only opens local stores.
func (o *options) openRepository(ctx context.Context) (domain.OffsetRepository, func() error, error) {
	if o.cfg.Storage.Driver == string(core.StorageRobot) {
		return nil, nil, fmt.Errorf("storage driver %q is not reachable from offsetctl", o.cfg.Storage.Driver)
	}
	return core.OpenOffsetRepository(ctx, o.cfg.Storage, nil)
}

// encode writes v as JSON or YAML. Table output is handled by callers.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}
