package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/lazypower/hypermem/internal/engine"
	"github.com/lazypower/hypermem/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// --- search command ---

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories by keyword",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eng := engine.New(db, cfg.Memory, nil)
	edges, err := eng.Search(ctx, community, query, searchLimit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	printEdges(os.Stdout, edges)
	return nil
}

// --- facts command ---

var factsLimit int

var factsCmd = &cobra.Command{
	Use:   "facts [user]",
	Short: "Show facts about a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		eng := engine.New(db, cfg.Memory, nil)
		edges, err := eng.UserFacts(context.Background(), community, args[0], factsLimit)
		if err != nil {
			return fmt.Errorf("facts: %w", err)
		}
		printEdges(os.Stdout, edges)
		return nil
	},
}

func printEdges(w io.Writer, edges []store.Hyperedge) {
	if len(edges) == 0 {
		fmt.Fprintln(w, "No memories found.")
		return
	}
	for i, e := range edges {
		fmt.Fprintf(w, "%d. [%.2f] %s\n", i+1, e.Urgency, e.Summary)
		var names []string
		for _, m := range e.Members {
			name := m.Name
			if name == "" {
				name = m.Key
			}
			names = append(names, fmt.Sprintf("%s:%s", m.Type, name))
		}
		fmt.Fprintf(w, "   %s, %s, accessed %s\n",
			e.EdgeType, humanize.Time(time.UnixMilli(e.CreatedAt)), english.Plural(e.AccessCount, "time", "times"))
		if len(names) > 0 {
			fmt.Fprintf(w, "   %s\n", strings.Join(names, ", "))
		}
	}
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize a community's memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		st, err := db.Stats(context.Background(), community)
		if err != nil {
			return err
		}
		printStats(os.Stdout, st)
		return nil
	},
}

func printStats(w io.Writer, st *store.Stats) {
	fmt.Fprintf(w, "## %s\n\n", st.CommunityID)
	fmt.Fprintf(w, "  memories     %s\n", humanize.Comma(int64(st.Hyperedges)))
	printCounts(w, st.EdgesByType)
	fmt.Fprintf(w, "  nodes        %s\n", humanize.Comma(int64(st.Nodes)))
	printCounts(w, st.NodesByType)
	fmt.Fprintf(w, "  memberships  %s\n", humanize.Comma(int64(st.Memberships)))
	fmt.Fprintf(w, "  accesses     %s\n", humanize.Comma(st.TotalAccesses))
	fmt.Fprintf(w, "  urgency      %.2f avg\n", st.AvgUrgency)
	fmt.Fprintf(w, "  importance   %.2f avg\n", st.AvgImportance)
	fmt.Fprintf(w, "  feeds        %d\n", st.Feeds)
	printCounts(w, st.Documents)
	if st.OldestEdgeAt > 0 {
		fmt.Fprintf(w, "  oldest       %s\n", humanize.Time(time.UnixMilli(st.OldestEdgeAt)))
	}
}

func printCounts(w io.Writer, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "    %-10s %s\n", k, humanize.Comma(int64(counts[k])))
	}
}

// --- sweep command ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run decay and prune across all communities now",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		res, err := engine.New(db, cfg.Memory, nil).RunMaintenance(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("decayed %s, pruned %s in %s\n",
			humanize.Comma(int64(res.Decayed)), humanize.Comma(int64(res.Pruned)), res.Duration.Round(time.Millisecond))
		return nil
	},
}

// --- export command ---

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a community's nodes and memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		g, err := db.Export(context.Background(), community)
		if err != nil {
			return err
		}

		var out io.Writer = os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		if err := writeExport(out, g, exportFormat); err != nil {
			return err
		}
		if exportOut != "" {
			stderr("exported %d nodes, %d memories to %s\n", len(g.Nodes), len(g.Hyperedges), exportOut)
		}
		return nil
	},
}

func writeExport(w io.Writer, g *store.Graph, format string) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(g)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(g); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown export format %q (want json or yaml)", format)
	}
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
	factsCmd.Flags().IntVarP(&factsLimit, "limit", "n", 10, "Maximum number of facts")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Output format: json or yaml")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write to file instead of stdout")
}
