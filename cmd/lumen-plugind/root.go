package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/lumen/internal/logging"
	"github.com/dshills/lumen/internal/plugin"
	"github.com/dshills/lumen/internal/plugin/luaplug"
	"github.com/dshills/lumen/internal/sandbox/audit"
)

// rootOptions are the persistent flags shared by all subcommands.
type rootOptions struct {
	logLevel   string
	dataDir    string
	pluginDirs []string
	trusted    []string
	apiVersion string
}

// violationsDBName is the audit database inside the data dir.
const violationsDBName = "violations.db"

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "lumen-plugind",
		Short: "Lumen plugin daemon: sandboxed plugin host for the Lumen shell",
		Long: `lumen-plugind discovers, sandboxes, and runs Lumen shell plugins.

Plugins are directories containing a plugin.toml manifest and a Lua
entry file. Each plugin runs confined to the permissions its manifest
declares; filesystem, network, and bus access outside the grant is
refused and recorded in the violation log.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := logging.DefaultConfig()
			cfg.Level = logging.ParseLevel(opts.logLevel)
			logging.SetDefault(logging.New(cfg))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", envOr("LUMEN_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flags.StringVar(&opts.dataDir, "data-dir", envOr("LUMEN_DATA_DIR", defaultDataDir()), "plugin data directory")
	flags.StringSliceVar(&opts.pluginDirs, "plugin-dir", nil, "plugin search directory (repeatable, replaces defaults)")
	flags.StringSliceVar(&opts.trusted, "trusted", nil, "plugin id allowed to run with a permissive sandbox (repeatable)")
	flags.StringVar(&opts.apiVersion, "api-version", envOr("LUMEN_API_VERSION", "1.0.0"), "plugin API version this host provides")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newDiscoverCmd(opts),
		newListCmd(opts),
		newViolationsCmd(opts),
		newDisableCmd(opts),
		newEnableCmd(opts),
	)

	return rootCmd
}

// newManager assembles a manager from the shared options.
func (o *rootOptions) newManager() (*plugin.Manager, error) {
	cfg := plugin.DefaultManagerConfig()
	cfg.DataDir = o.dataDir
	cfg.HostAPIVersion = o.apiVersion
	cfg.TrustedPlugins = o.trusted
	cfg.Factory = luaplug.Factory
	cfg.Logger = logging.Default()
	if len(o.pluginDirs) > 0 {
		cfg.PluginPaths = o.pluginDirs
	}
	return plugin.NewManager(cfg)
}

// openAuditStore opens the violation database in the data dir.
func (o *rootOptions) openAuditStore() (*audit.Store, error) {
	if err := os.MkdirAll(o.dataDir, 0o755); err != nil {
		return nil, err
	}
	return audit.Open(filepath.Join(o.dataDir, violationsDBName))
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "lumen")
	}
	return "."
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
