package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/lumen/internal/logging"
	"github.com/dshills/lumen/internal/plugin"
	"github.com/dshills/lumen/internal/sandbox"
	"github.com/dshills/lumen/internal/sandbox/audit"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var hotReload bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load all plugins and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, hotReload)
		},
	}
	cmd.Flags().BoolVar(&hotReload, "hot-reload", true, "reload plugins when their files change")
	return cmd
}

func runDaemon(opts *rootOptions, hotReload bool) error {
	logger := logging.Default()

	store, err := opts.openAuditStore()
	if err != nil {
		return fmt.Errorf("opening violation store: %w", err)
	}
	defer store.Close()

	mgr, err := opts.newManager()
	if err != nil {
		return err
	}

	monitor := sandbox.NewMonitor(store, sandbox.DefaultMonitorInterval, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Start(ctx)
	defer monitor.Stop()

	unsubscribe := mgr.Subscribe(func(ev plugin.ManagerEvent) {
		switch ev.Type {
		case plugin.EventPluginLoaded, plugin.EventPluginReloaded:
			if host, ok := mgr.Get(ev.Plugin); ok {
				proc := host.Process()
				if pid := proc.PID(); pid != 0 {
					monitor.Watch(ev.Plugin, pid, proc.Config())
				}
				if host.ReducedIsolation() {
					logger.Warn("plugin %s is running with reduced isolation", ev.Plugin)
				}
			}
		case plugin.EventPluginUnloaded, plugin.EventPluginDisabled:
			monitor.Unwatch(ev.Plugin)
		}
	})
	defer unsubscribe()

	unsubEvents := mgr.SubscribePluginEvents(func(ev plugin.Event) {
		switch ev.Kind {
		case plugin.EventShowNotification:
			logger.Info("notification from %s: %s %s", ev.PluginID, ev.Title, ev.Body)
		case plugin.EventLog:
			logger.Info("[%s] %s", ev.PluginID, ev.Body)
		default:
			logger.Debug("event from %s: %s", ev.PluginID, ev.Kind)
		}
	})
	defer unsubEvents()

	if err := mgr.LoadAll(); err != nil {
		logger.Warn("%v", err)
	}
	logger.Info("%d plugins running", mgr.Count())

	var watcher *plugin.Watcher
	if hotReload {
		watcher, err = plugin.NewWatcher(mgr, plugin.WithWatcherLogger(logger))
		if err != nil {
			logger.Warn("hot reload unavailable: %v", err)
		} else {
			defer watcher.Close()
			for _, host := range mgr.List() {
				if err := watcher.Watch(host.ID()); err != nil {
					logger.Warn("cannot watch %s: %v", host.ID(), err)
				}
			}
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	logger.Info("shutting down")
	return mgr.UnloadAll()
}

func newDiscoverCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List plugin packages found in the search paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := opts.newManager()
			if err != nil {
				return err
			}

			infos := mgr.Discover()
			if len(infos) == 0 {
				fmt.Println("no plugins found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tDIRECTORY\tSTATUS")
			for _, info := range infos {
				if info.Err != nil {
					fmt.Fprintf(w, "%s\t-\t%s\tbroken: %v\n", info.ID, info.Dir, info.Err)
					continue
				}
				status := "ok"
				if mgr.IsDisabled(info.ID) {
					status = "disabled"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					info.ID, info.Manifest.Plugin.Version, info.Dir, status)
			}
			return w.Flush()
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List plugins with their declared capabilities and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := opts.newManager()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVERSION\tCAPABILITIES\tDANGEROUS PERMS")
			for _, info := range mgr.Discover() {
				if info.Err != nil {
					continue
				}
				meta, err := info.Manifest.Metadata()
				if err != nil {
					continue
				}
				dangerous := "-"
				if meta.Permissions.HasDangerous() {
					dangerous = fmt.Sprintf("%d", len(meta.Permissions.DangerousPermissions()))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					meta.ID, meta.Name, meta.Version, len(meta.Capabilities), dangerous)
			}
			return w.Flush()
		},
	}
}

func newViolationsCmd(opts *rootOptions) *cobra.Command {
	var (
		pluginID string
		kind     string
		limit    int
		since    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "violations",
		Short: "Show recorded sandbox violations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openAuditStore()
			if err != nil {
				return err
			}
			defer store.Close()

			q := audit.Query{PluginID: pluginID, Limit: limit}
			if kind != "" {
				k, err := sandbox.ParseViolationKind(kind)
				if err != nil {
					return err
				}
				q.Kind = k.String()
			}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}

			violations, err := store.List(q)
			if err != nil {
				return err
			}
			if len(violations) == 0 {
				fmt.Println("no violations recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPLUGIN\tKIND\tDETAIL")
			for _, v := range violations {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					v.Timestamp.Format(time.RFC3339), v.PluginID, v.Kind, v.Detail)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&pluginID, "plugin", "", "filter by plugin id")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by violation kind")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")
	cmd.Flags().DurationVar(&since, "since", 0, "only show violations newer than this (e.g. 24h)")
	return cmd
}

func newDisableCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <plugin-id>",
		Short: "Disable a plugin until it is enabled again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := opts.newManager()
			if err != nil {
				return err
			}
			if err := mgr.Disable(args[0]); err != nil {
				return err
			}
			fmt.Printf("disabled %s\n", args[0])
			return nil
		},
	}
}

func newEnableCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <plugin-id>",
		Short: "Clear a plugin's disabled mark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := opts.newManager()
			if err != nil {
				return err
			}
			if err := mgr.Enable(args[0]); err != nil {
				return err
			}
			fmt.Printf("enabled %s\n", args[0])
			return nil
		},
	}
}
