package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ghyeongl/savesync/savedata"
)

func newInspectCommand(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Compare both stores without changing either",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStores(cmd.Context(), func(s *stores) error {
				rep := savedata.BuildReport(savedata.Discover(cmd.Context(), s.legacy, s.versioned))
				out := cmd.OutOrStdout()
				switch format {
				case "json":
					return rep.WriteJSON(out)
				case "yaml":
					return rep.WriteYAML(out)
				case "tree":
					_, err := fmt.Fprintln(out, rep.Tree())
					return err
				}
				return fmt.Errorf("unknown format %q (want tree, json or yaml)", format)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "tree", "tree, json or yaml")
	return cmd
}

func newBackupCommand(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a tar.gz snapshot of both stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStores(cmd.Context(), func(s *stores) error {
				snap := savedata.Discover(cmd.Context(), s.legacy, s.versioned)
				if output == "-" {
					return savedata.WriteBackup(cmd.Context(), cmd.OutOrStdout(), snap)
				}
				if err := savedata.WriteBackupFile(cmd.Context(), output, snap); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d legacy, %d versioned)\n", output, len(snap.Legacy), len(snap.Versioned))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "savesync-backup.tar.gz", "archive path, - for stdout")
	return cmd
}
