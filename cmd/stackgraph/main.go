// Package main provides the stackgraph CLI.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"stackgraph/internal/config"
	"stackgraph/internal/gitio"
	"stackgraph/internal/graph"
	"stackgraph/internal/logging"
	"stackgraph/internal/projection"
	"stackgraph/internal/refmeta"
	"stackgraph/internal/snapshot"
)

// Version is the current stackgraph CLI version
var Version = "0.3.0"

const defaultWorkspaceRef = "refs/heads/gitbutler/workspace"

var rootCmd = &cobra.Command{
	Use:               "stackgraph",
	Short:             "Inspect the segmented commit graph of a Git repository",
	Long:              `stackgraph builds a graph of segments from a repository's history, reconciles it with stored workspace stacks, and shows statistics, projections and snapshots of it.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the segment graph as Graphviz dot or JSON",
	RunE:  runGraph,
}

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Print the workspace projection as YAML",
	RunE:  runWorkspace,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print graph statistics as JSON",
	RunE:  runStats,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the structural invariants of the graph",
	RunE:  runValidate,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Snapshot commands",
}

var snapshotWriteCmd = &cobra.Command{
	Use:   "write <file>",
	Short: "Write a compressed snapshot of the graph and print its digest",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotWrite,
}

var snapshotDiffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Show the differences between two snapshots",
	Args:  cobra.ExactArgs(2),
	RunE:  runSnapshotDiff,
}

var metaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Stored workspace metadata commands",
}

var metaAddStackCmd = &cobra.Command{
	Use:   "add-stack <branch>...",
	Short: "Add a stack of branches, top first, to the workspace",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMetaAddStack,
}

var metaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored workspace as YAML",
	RunE:  runMetaShow,
}

var (
	repoPath    string
	configPath  string
	startRev    string
	noReconcile bool
	limitHint   int
	hardLimit   int
	withTags    bool
	logJSON     bool

	graphFormat   string
	withStash     bool
	workspaceRef  string
	metaTargetRef string
	cfg           config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", ".", "Path to the Git repository")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file (default: stackgraph.yaml in the repository)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log JSON lines instead of human readable output")

	for _, cmd := range []*cobra.Command{graphCmd, workspaceCmd, statsCmd, validateCmd, snapshotWriteCmd} {
		cmd.Flags().StringVar(&startRev, "rev", "", "Revision to start from instead of HEAD")
		cmd.Flags().BoolVar(&noReconcile, "no-reconcile", false, "Skip reconciling the graph with stored stacks")
		cmd.Flags().IntVar(&limitHint, "limit", config.Unlimited, "Soft number of commits per lane (overrides config)")
		cmd.Flags().IntVar(&hardLimit, "hard-limit", config.Unlimited, "Maximum number of commits (overrides config)")
		cmd.Flags().BoolVar(&withTags, "tags", false, "Collect tags")
	}
	graphCmd.Flags().StringVar(&graphFormat, "format", "dot", "Output format: dot or json")
	workspaceCmd.Flags().BoolVar(&withStash, "stash", false, "Include the stash status of stacks")
	for _, cmd := range []*cobra.Command{metaAddStackCmd, metaShowCmd} {
		cmd.Flags().StringVar(&workspaceRef, "workspace", defaultWorkspaceRef, "Workspace reference")
	}
	metaAddStackCmd.Flags().StringVar(&metaTargetRef, "target", "", "Set the integration target, e.g. refs/remotes/origin/main")

	snapshotCmd.AddCommand(snapshotWriteCmd)
	snapshotCmd.AddCommand(snapshotDiffCmd)
	metaCmd.AddCommand(metaAddStackCmd)
	metaCmd.AddCommand(metaShowCmd)

	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(metaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath, repoPath)
	if err != nil {
		return err
	}
	logging.Setup(cmd.ErrOrStderr(), cfg.Level(), !logJSON)
	return nil
}

// openStore opens the configured metadata store. Relative paths are taken from the repository.
func openStore() (refmeta.Store, error) {
	path := cfg.Metadata.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(repoPath, path)
	}
	store, err := refmeta.Open(cfg.Metadata.Backend, path)
	if err != nil {
		return nil, fmt.Errorf("opening metadata: %w", err)
	}
	return store, nil
}

// buildOptions applies the traversal flags to the configuration, checking them the
// same way as configured values.
func buildOptions(cmd *cobra.Command) (graph.Options, error) {
	c := cfg
	if cmd.Flags().Changed("limit") {
		c.Traversal.LimitHint = limitHint
	}
	if cmd.Flags().Changed("hard-limit") {
		c.Traversal.HardLimit = hardLimit
	}
	if withTags {
		c.Traversal.CollectTags = true
	}
	if err := c.Validate(); err != nil {
		return graph.Options{}, err
	}
	return c.Traversal.GraphOptions(), nil
}

// loadGraph builds and reconciles the graph the command operates on.
func loadGraph(cmd *cobra.Command) (*graph.Graph, error) {
	repo, err := gitio.Open(repoPath)
	if err != nil {
		return nil, err
	}
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	opts, err := buildOptions(cmd)
	if err != nil {
		return nil, err
	}
	var g *graph.Graph
	if startRev != "" {
		id, refName, err := repo.ResolveRevision(startRev)
		if err != nil {
			return nil, err
		}
		g, err = graph.FromCommitTraversal(repo, id, refName, store, opts)
		if err != nil {
			return nil, err
		}
	} else {
		g, err = graph.FromHead(repo, store, opts)
		if err != nil {
			return nil, err
		}
	}

	if !noReconcile {
		if err := graph.Reconcile(g, store); err != nil {
			return nil, err
		}
	}
	log.Debug().
		Int("segments", g.NumSegments()).
		Int("commits", g.NumCommits()).
		Bool("hard_limit_hit", g.HardLimitHit()).
		Msg("built graph")
	return g, nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	g, err := loadGraph(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch graphFormat {
	case "dot":
		return g.WriteDot(out)
	case "json":
		return writeJSON(out, snapshot.FromGraph(g))
	default:
		return fmt.Errorf("unknown format %q (use dot or json)", graphFormat)
	}
}

func runWorkspace(cmd *cobra.Command, args []string) error {
	g, err := loadGraph(cmd)
	if err != nil {
		return err
	}
	var opts []projection.Option
	if withStash {
		opts = append(opts, projection.WithStashStatus())
	}
	ws, err := projection.Project(g, opts...)
	if err != nil {
		return err
	}
	return writeYAML(cmd.OutOrStdout(), newWorkspaceView(ws))
}

func runStats(cmd *cobra.Command, args []string) error {
	g, err := loadGraph(cmd)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), g.Statistics())
}

func runValidate(cmd *cobra.Command, args []string) error {
	g, err := loadGraph(cmd)
	if err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok: %d segments, %d commits, %d connections\n",
		g.NumSegments(), g.NumCommits(), g.NumConnections())
	return nil
}

func runSnapshotWrite(cmd *cobra.Command, args []string) error {
	g, err := loadGraph(cmd)
	if err != nil {
		return err
	}
	doc := snapshot.FromGraph(g)
	digest, err := doc.Digest()
	if err != nil {
		return err
	}

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	if err := doc.Encode(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing snapshot file: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), digest)
	return nil
}

func readSnapshot(path string) (*snapshot.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()
	doc, err := snapshot.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return doc, nil
}

func runSnapshotDiff(cmd *cobra.Command, args []string) error {
	a, err := readSnapshot(args[0])
	if err != nil {
		return err
	}
	b, err := readSnapshot(args[1])
	if err != nil {
		return err
	}
	changes := snapshot.Diff(a, b)
	out := cmd.OutOrStdout()
	if len(changes) == 0 {
		fmt.Fprintln(out, "no changes")
		return nil
	}
	for _, c := range changes {
		fmt.Fprintln(out, c)
	}
	return nil
}

// branchRef expands a short branch name to its full reference name.
func branchRef(name string) string {
	if strings.HasPrefix(name, "refs/") {
		return name
	}
	return "refs/heads/" + name
}

func runMetaAddStack(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ws, err := store.Workspace(workspaceRef)
	if err != nil {
		return err
	}
	if ws == nil {
		ws = &refmeta.Workspace{}
	}
	names := make([]string, len(args))
	for i, a := range args {
		names[i] = branchRef(a)
		if ws.ContainsBranch(names[i]) {
			return fmt.Errorf("branch %s is already part of a stack", names[i])
		}
	}
	if metaTargetRef != "" {
		ws.TargetRef = metaTargetRef
	}
	stack := ws.AddStack(names...)
	if err := store.SetWorkspace(workspaceRef, ws); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added stack %s with %d branches to %s\n", stack.ID, len(names), graph.ShortName(workspaceRef))
	return nil
}

func runMetaShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ws, err := store.Workspace(workspaceRef)
	if err != nil {
		return err
	}
	if ws == nil {
		return errors.New("no workspace stored for " + workspaceRef)
	}
	return writeYAML(cmd.OutOrStdout(), ws)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding YAML: %w", err)
	}
	return enc.Close()
}
