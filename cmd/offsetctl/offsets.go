package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"offsetcore/pkg/domain"
)

func newSeedCmd(opts *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Store the offsets listed in a YAML fixture file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fixtures, err := readFixtures(file)
			if err != nil {
				return err
			}
			reqs, err := fixtures.applyRequests()
			if err != nil {
				return err
			}
			repo, closeRepo, err := opts.openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeRepo() }()
			persisted, err := repo.ApplyOffsets(cmd.Context(), reqs)
			if err != nil {
				return err
			}
			return printOffsets(cmd, opts, persisted)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML fixture file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list [definition-uri]",
		Short: "List persisted offsets, optionally for one labware definition",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri := ""
			if len(args) == 1 {
				uri = args[0]
			}
			repo, closeRepo, err := opts.openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeRepo() }()
			persisted, err := repo.ListOffsets(cmd.Context(), uri)
			if err != nil {
				return err
			}
			return printOffsets(cmd, opts, persisted)
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete persisted offsets by ID",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeRepo, err := opts.openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeRepo() }()
			if err := repo.DeleteOffsets(cmd.Context(), args); err != nil {
				return err
			}
			cmd.Printf("deleted %d offset(s)\n", len(args))
			return nil
		},
	}
}

func printOffsets(cmd *cobra.Command, opts *options, persisted []domain.PersistedOffset) error {
	rows := rowsFor(persisted)
	if opts.output != "table" {
		return encode(cmd.OutOrStdout(), opts.output, rows)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDEFINITION\tLOCATION\tVECTOR")
	for _, r := range rows {
		where := string(r.Location.Kind)
		if r.Location.SlotName != "" {
			where = r.Location.SlotName
			if r.Location.ModuleModel != "" {
				where += "/" + r.Location.ModuleModel
			}
			if r.Location.AdapterID != "" {
				where += "/" + r.Location.AdapterID
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.DefinitionURI, where, r.Vector)
	}
	return tw.Flush()
}
