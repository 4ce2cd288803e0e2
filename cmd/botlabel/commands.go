package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/botlabel/internal/ingest"
	"github.com/hurttlocker/botlabel/internal/label"
	"github.com/hurttlocker/botlabel/internal/store"
)

func newInitCmd(a *app) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database, or destroy and recreate it with --reset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(reset)
			if err != nil {
				return err
			}
			defer st.Close()

			verb := "Initialized"
			if reset {
				verb = "Reset"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, st.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "delete all stored users before opening (irreversible)")
	return cmd
}

func newLoadCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "load <file>...",
		Short: "Load clustered user embeddings (.json, .jsonl, .yaml, optionally .zst)",
		Long: `Load reads one or more cluster source files. Clusters receive sequential
ids starting at 0 within each file. Every file is stored in a single
transaction: a failing file leaves nothing behind, and files loaded before
it stay committed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			loader := ingest.NewLoader(st, ingest.Options{
				IDPrefix: a.cfg.Prefix(),
				Logger:   a.logger,
			})
			for _, path := range args {
				res, err := loader.Load(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("loading %s: %w", path, err)
				}
				if asJSON {
					if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
					continue
				}
				fmt.Fprint(cmd.OutOrStdout(), ingest.FormatLoadResult(res))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&a.idPrefix, "id-prefix", "", `prefix stripped from user ids (default "@", "none" disables)`)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func newUnlabeledCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "unlabeled",
		Short: "List clusters that still have unlabeled members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			ids, err := st.UnlabeledClusters(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), ids)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as a JSON array")
	return cmd
}

func newClusterCmd(a *app) *cobra.Command {
	var (
		asJSON     bool
		embeddings bool
	)
	cmd := &cobra.Command{
		Use:   "cluster <id>",
		Short: "Show the members of a cluster in load order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clusterID, err := parseClusterID(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			members, err := st.ClusterMembers(cmd.Context(), clusterID)
			if err != nil {
				return err
			}
			if !embeddings {
				for _, m := range members {
					m.Embedding = nil
				}
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), members)
			}
			if len(members) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Cluster %d has no members\n", clusterID)
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USER\tLABEL")
			for _, m := range members {
				if embeddings {
					fmt.Fprintf(tw, "%s\t%s\t%v\n", m.UserID, m.Label, m.Embedding)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\n", m.UserID, m.Label)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&embeddings, "embeddings", false, "include embedding vectors")
	return cmd
}

func newUserCmd(a *app) *cobra.Command {
	var (
		asJSON bool
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "user <id>",
		Short: "Look up a user (lowest cluster id first, --all for every membership)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			var recs []*store.UserRecord
			if all {
				recs, err = st.UserMemberships(cmd.Context(), args[0])
				if err == nil && len(recs) == 0 {
					err = fmt.Errorf("user %q: %w", args[0], store.ErrNotFound)
				}
			} else {
				var rec *store.UserRecord
				rec, err = st.GetUser(cmd.Context(), args[0])
				recs = []*store.UserRecord{rec}
			}
			if err != nil {
				return err
			}

			if asJSON {
				if all {
					return writeJSON(cmd.OutOrStdout(), recs)
				}
				return writeJSON(cmd.OutOrStdout(), recs[0])
			}
			for _, r := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tcluster=%d\tlabel=%s\tdims=%d\n",
					r.UserID, r.ClusterID, r.Label, len(r.Embedding))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&all, "all", false, "show every cluster membership")
	return cmd
}

func newLabelCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "label <annotations.csv|annotations.json>",
		Short: "Apply reviewer annotations and propagate cluster majorities",
		Long: `Label reads an annotation table with user_id, cluster_id and label columns,
where label is "Yes" (bot) or "No" (not bot). Each annotated cluster gets
its majority answer, ties going to "No", and every annotated user then
keeps their own answer. The table is checked before anything is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			anns, err := readAnnotations(args[0])
			if err != nil {
				return err
			}
			if err := label.Validate(anns); err != nil {
				return err
			}

			st, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := label.NewPropagator(st, a.logger).LabelUsers(cmd.Context(), anns)
			if res != nil {
				if asJSON {
					if jerr := writeJSON(cmd.OutOrStdout(), res); jerr != nil {
						return errors.Join(err, jerr)
					}
				} else {
					for _, c := range res.Clusters {
						fmt.Fprintf(cmd.OutOrStdout(), "cluster %d: %s (yes=%d no=%d, %d rows, %d overrides)\n",
							c.ClusterID, c.Majority, c.Yes, c.No, c.ClusterRows, c.OverrideRows)
					}
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), stats)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database:    %s\n", st.Path())
			fmt.Fprintf(out, "Users:       %d\n", stats.Users)
			fmt.Fprintf(out, "Clusters:    %d (%d unlabeled)\n", stats.Clusters, stats.UnlabeledClusters)
			fmt.Fprintf(out, "Labels:      unassigned=%d not_bot=%d bot=%d\n", stats.Unassigned, stats.NotBot, stats.Bot)
			fmt.Fprintf(out, "Dimensions:  %d\n", stats.EmbeddingDimensions)
			fmt.Fprintf(out, "Size:        %d bytes\n", stats.DBSizeBytes)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "botlabel %s\n", version)
		},
	}
}

func parseClusterID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid cluster id %q", s)
	}
	return id, nil
}

func readAnnotations(path string) ([]label.Annotation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening annotations: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return label.ParseJSON(f)
	}
	return label.ParseCSV(f)
}
