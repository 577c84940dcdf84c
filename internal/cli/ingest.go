package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/lazypower/hypermem/internal/ingest"
	"github.com/spf13/cobra"
)

// --- ingest command ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Ingest text, markdown or PDF documents as background knowledge",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	db, _, pipe, err := openPipeline()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	var failed int
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			return err
		}
		doc, err := db.CreateDocument(ctx, community, filepath.Base(path), path)
		if err != nil {
			return err
		}
		if err := pipe.IngestDocument(ctx, doc.ID); err != nil {
			stderr("%s: %v\n", arg, err)
			failed++
			continue
		}
		doc, err = db.GetDocument(ctx, doc.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s (%s)\n", arg, english.Plural(doc.ChunkCount, "chunk", "chunks"), doc.ID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(args))
	}
	return nil
}

// --- feed commands ---

var (
	feedInterval time.Duration
	feedPollAll  bool
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Manage RSS and Atom feeds",
}

var feedAddCmd = &cobra.Command{
	Use:   "add [url]",
	Short: "Subscribe the community to a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		interval := feedInterval
		if interval <= 0 {
			interval = cfg.Ingest.FeedInterval.Duration
		}
		f, err := db.AddFeed(context.Background(), community, args[0], interval)
		if err != nil {
			return err
		}
		fmt.Printf("feed %d: %s every %s\n", f.ID, f.URL, f.Interval)
		return nil
	},
}

var feedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the community's feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		feeds, err := db.ListFeeds(context.Background(), community)
		if err != nil {
			return err
		}
		if len(feeds) == 0 {
			fmt.Println("No feeds. Add one with `hypermem feed add <url>`.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tURL\tEVERY\tLAST FETCH\tSTATUS")
		for _, f := range feeds {
			last := "never"
			if f.LastFetchedAt != nil {
				last = humanize.Time(time.UnixMilli(*f.LastFetchedAt))
			}
			status := "ok"
			if f.LastError != "" {
				status = "error: " + f.LastError
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", f.ID, f.URL, f.Interval, last, status)
		}
		return tw.Flush()
	},
}

var feedRmCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Unsubscribe a feed; memories already ingested are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid feed id %q", args[0])
		}
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		if err := db.DeleteFeed(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("feed %d removed\n", id)
		return nil
	},
}

var feedPollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Fetch due feeds now (all feeds with --all)",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, pipe, err := openPipeline()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		var results []ingest.FeedResult
		if feedPollAll {
			feeds, err := db.ListFeeds(ctx, community)
			if err != nil {
				return err
			}
			for _, f := range feeds {
				results = append(results, pipe.IngestFeed(ctx, f))
			}
		} else {
			results, err = pipe.IngestDueFeeds(ctx)
			if err != nil {
				return err
			}
		}

		if len(results) == 0 {
			fmt.Println("No feeds due.")
			return nil
		}
		for _, r := range results {
			line := fmt.Sprintf("%s: %d new, %d seen", r.URL, r.Created, r.Duplicates)
			if r.Failed > 0 {
				line += fmt.Sprintf(", %d failed", r.Failed)
			}
			if r.Error != "" {
				line += " (" + strings.TrimSpace(r.Error) + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	feedAddCmd.Flags().DurationVar(&feedInterval, "interval", 0, "Poll interval (default from config)")
	feedPollCmd.Flags().BoolVar(&feedPollAll, "all", false, "Poll every feed of the community, due or not")

	feedCmd.AddCommand(feedAddCmd)
	feedCmd.AddCommand(feedListCmd)
	feedCmd.AddCommand(feedRmCmd)
	feedCmd.AddCommand(feedPollCmd)
}
