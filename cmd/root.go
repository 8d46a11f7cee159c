// Package cmd is the savesync command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ghyeongl/savesync/savedata"
)

// rootOptions holds state shared by every command.
type rootOptions struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	cfg     Config
}

// NewRootCommand creates the savesync command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{v: newViper()}

	cmd := &cobra.Command{
		Use:   "savesync",
		Short: "Migrate and sync game saves between the legacy and versioned stores",
		Long: `savesync reconciles the save files of the game kept in two stores:
a flat legacy key-value namespace and a versioned SQLite file database.

Configuration comes from --config (YAML), SAVESYNC_* environment variables
(e.g. SAVESYNC_LEGACY_BACKEND) and flags, flags winning.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := readConfigFile(opts.v, opts.cfgFile); err != nil {
				return err
			}
			cfg, err := loadConfig(opts.v)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			savedata.InitLogger(cfg.Log.Dir, opts.verbose)
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.cfgFile, "config", "c", "", "config file (default ./savesync.yaml or ~/.config/savesync/savesync.yaml)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug output on the console")
	pf.String("legacy-backend", "bolt", "legacy store backend (bolt|redis|memory)")
	pf.String("legacy-path", "", "bolt file of the legacy store")
	pf.String("legacy-origin", "", "origin namespace inside the legacy store")
	pf.String("redis-addr", "", "redis address for the redis backend")
	pf.Int("redis-db", 0, "redis database number")
	pf.String("versioned-dir", "", "directory of the versioned database")
	pf.String("log-dir", "", "directory for rotated log files")
	if err := bindFlags(opts.v, pf); err != nil {
		panic(err)
	}

	cmd.AddCommand(
		newPassCommand(opts, savedata.ModeMigrate),
		newPassCommand(opts, savedata.ModeSync),
		newRunCommand(opts),
		newInspectCommand(opts),
		newBackupCommand(opts),
		newConsoleCommand(opts),
		newServeCommand(opts),
	)
	return cmd
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withStores opens the configured stores around fn.
func (o *rootOptions) withStores(ctx context.Context, fn func(*stores) error) error {
	s, err := openStores(ctx, o.cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
