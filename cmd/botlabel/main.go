// Command botlabel manages the bot-annotation database: it loads clustered
// user embeddings, serves them for review and propagates reviewer labels.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hurttlocker/botlabel/internal/config"
	"github.com/hurttlocker/botlabel/internal/logging"
	"github.com/hurttlocker/botlabel/internal/store"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries flag values and the state resolved before a command runs.
type app struct {
	configPath string
	dbPath     string
	logLevel   string
	listen     string
	idPrefix   string

	cfg    config.ResolvedConfig
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "botlabel",
		Short: "Store clustered user embeddings and propagate bot labels",
		Long: `botlabel keeps users grouped into clusters together with their embedding
vectors, lists the clusters still waiting for review and spreads each
reviewed cluster's majority answer to all of its members.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.botlabel/config.yaml)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database path (default ~/.botlabel/botlabel.db)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newInitCmd(a),
		newLoadCmd(a),
		newUnlabeledCmd(a),
		newClusterCmd(a),
		newUserCmd(a),
		newLabelCmd(a),
		newStatsCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:  a.configPath,
		CLIDBPath:   a.dbPath,
		CLIListen:   a.listen,
		CLILogLevel: a.logLevel,
		CLIIDPrefix: a.idPrefix,
	})
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}
	a.cfg = cfg

	logger, err := logging.New(logging.Config{
		Level:  cfg.LogLevel.Value,
		Format: cfg.LogFormat.Value,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	a.logger = logger.With(zap.String("command", cmd.Name()))
	return nil
}

func (a *app) openStore(reset bool) (*store.SQLiteStore, error) {
	dims, err := a.cfg.Dimensions()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		DBPath:              a.cfg.DBPath.Value,
		Reset:               reset,
		EmbeddingDimensions: dims,
		Logger:              a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
