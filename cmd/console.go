package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ghyeongl/savesync/console"
	"github.com/ghyeongl/savesync/devmenu"
	"github.com/ghyeongl/savesync/savedata"
)

func newConsoleCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive developer console (give, inventory, migrate, sync, inspect)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStores(cmd.Context(), func(s *stores) error {
				runner := savedata.NewRunner(s.legacy, s.versioned)
				c := devmenu.NewConsole(devmenu.NewMenu(s.kv), runner, s.legacy, s.versioned)

				out := cmd.OutOrStdout()
				in := bufio.NewScanner(cmd.InOrStdin())
				fmt.Fprint(out, "> ")
				for in.Scan() {
					line := in.Text()
					if line == "quit" || line == "exit" {
						return nil
					}
					res, err := c.Exec(cmd.Context(), line)
					if err != nil {
						fmt.Fprintln(out, "error:", err)
					} else if res != "" {
						fmt.Fprintln(out, res)
					}
					fmt.Fprint(out, "> ")
				}
				return in.Err()
			})
		},
	}
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the debug HTTP console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = opts.cfg.Console.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return opts.withStores(ctx, func(s *stores) error {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				bus := savedata.NewEventBus()
				runner := savedata.NewRunner(s.legacy, s.versioned,
					savedata.WithEventBus(bus),
					savedata.WithMetrics(savedata.NewMetrics(reg)))

				srv := &http.Server{
					Addr: addr,
					Handler: console.NewRouter(console.Deps{
						Runner:    runner,
						Legacy:    s.legacy,
						Versioned: s.versioned,
						Menu:      devmenu.NewMenu(s.kv, devmenu.EventProbe{Bus: bus}),
						Events:    bus,
						Gatherer:  reg,
						DataDir:   filepath.Clean(opts.cfg.Versioned.Dir),
						Secret:    opts.cfg.Console.Secret,
					}),
					ReadHeaderTimeout: 10 * time.Second,
				}
				return serve(ctx, srv)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default console.addr)")
	return cmd
}

func serve(ctx context.Context, srv *http.Server) error {
	l := savedata.Logger("serve")
	errCh := make(chan error, 1)
	go func() {
		l.Info("console listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	l.Info("console shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
