package main

import (
	"context"
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"offsetcore/internal/adapters/exports"
	"offsetcore/internal/core"
	"offsetcore/pkg/domain"
)

// apiClient calls offsetd.
type apiClient struct {
	http *resty.Client
}

type apiError struct {
	Error  string         `json:"error"`
	Result *domain.Result `json:"result,omitempty"`
}

func (o *options) client() *apiClient {
	return &apiClient{http: resty.New().SetBaseURL(o.server).SetTimeout(o.timeout)}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx).SetError(&apiError{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
			return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode(), e.Error)
		}
		return fmt.Errorf("%s %s: %d", method, path, resp.StatusCode())
	}
	return nil
}

type runReply struct {
	Run    core.RunState `json:"run"`
	Result domain.Result `json:"result"`
}

func newRunsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List open calibration runs on offsetd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Runs []core.RunState `json:"runs"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/runs", nil, &out); err != nil {
				return err
			}
			if opts.output != "table" {
				return encode(cmd.OutOrStdout(), opts.output, out.Runs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTEP\tSUBSTEP\tLABWARE\tUNSAVED")
			for _, r := range out.Runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\n", r.RunID, r.Steps.Step(), r.Substep.Current, len(r.Labware), core.HasUnsavedChanges(r))
			}
			return tw.Flush()
		},
	}
}

func newStartCmd(opts *options) *cobra.Command {
	var (
		file  string
		runID string
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a calibration run over the labware in a YAML fixture file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fixtures, err := readFixtures(file)
			if err != nil {
				return err
			}
			labware, err := fixtures.labware()
			if err != nil {
				return err
			}
			var out runReply
			body := map[string]any{"runId": runID, "labware": labware}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/runs", body, &out); err != nil {
				return err
			}
			return printRun(cmd, opts, out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML fixture file")
	cmd.Flags().StringVar(&runID, "run-id", "", "run ID (generated when empty)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newApplyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <run-id>",
		Short: "Save every confirmed working offset of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out runReply
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/runs/"+args[0]+"/apply", nil, &out); err != nil {
				return err
			}
			return printRun(cmd, opts, out)
		},
	}
}

func newExportCmd(opts *options) *cobra.Command {
	var formats []string
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Queue a report export for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := struct {
				Formats     []exports.Format `json:"formats"`
				RequestedBy string           `json:"requestedBy"`
			}{RequestedBy: "offsetctl"}
			for _, f := range formats {
				req.Formats = append(req.Formats, exports.Format(f))
			}
			var rec exports.Record
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/runs/"+args[0]+"/exports", req, &rec); err != nil {
				return err
			}
			if opts.output != "table" {
				return encode(cmd.OutOrStdout(), opts.output, rec)
			}
			cmd.Printf("export %s %s\n", rec.ID, rec.Status)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&formats, "format", nil, "report formats (json, csv)")
	return cmd
}

func printRun(cmd *cobra.Command, opts *options, out runReply) error {
	if opts.output != "table" {
		return encode(cmd.OutOrStdout(), opts.output, out)
	}
	cmd.Printf("run %s at %s (%d labware)\n", out.Run.RunID, out.Run.Steps.Step(), len(out.Run.Labware))
	for _, v := range out.Result.Violations {
		cmd.Printf("%s %s: %s\n", v.Severity, v.Code, v.Message)
	}
	return nil
}
