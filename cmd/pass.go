package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ghyeongl/savesync/devmenu"
	"github.com/ghyeongl/savesync/savedata"
)

func newPassCommand(opts *rootOptions, mode savedata.Mode) *cobra.Command {
	var asJSON bool
	short := "Copy legacy saves into an empty versioned store"
	if mode == savedata.ModeSync {
		short = "Fill the gaps of each store from the other"
	}

	cmd := &cobra.Command{
		Use:   mode.String(),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStores(cmd.Context(), func(s *stores) error {
				res, err := savedata.NewRunner(s.legacy, s.versioned).Run(cmd.Context(), mode)
				if err != nil {
					return err
				}
				return printResult(cmd, res, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func printResult(cmd *cobra.Command, res savedata.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), devmenu.FormatResult(res))
	return err
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		modeName string
		waitFor  string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pass once the game signals it is ready",
		Long: `run waits for the ready marker file (--wait-for, or ready.marker in the
config) to appear and then runs a single pass. Without a marker it runs
immediately. The default mode migrates on first run and syncs afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := savedata.ParseMode(modeName)
			if err != nil {
				return err
			}
			if waitFor == "" {
				waitFor = opts.cfg.Ready.Marker
			}
			ctx := cmd.Context()

			var ready <-chan struct{}
			if waitFor != "" {
				if ready, err = savedata.ReadyOnMarker(ctx, waitFor); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "waiting for %s\n", waitFor)
			}

			return opts.withStores(ctx, func(s *stores) error {
				b := savedata.NewBootstrap(savedata.NewRunner(s.legacy, s.versioned), mode)
				res, err := b.RunWhenReady(ctx, ready)
				if err != nil {
					return err
				}
				return printResult(cmd, res, asJSON)
			})
		},
	}
	cmd.Flags().StringVar(&modeName, "mode", "auto", "auto, migrate or sync")
	cmd.Flags().StringVar(&waitFor, "wait-for", "", "marker file signalling the game is ready")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}
