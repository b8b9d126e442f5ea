package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"panplay/internal"
	"panplay/resolver"
	"panplay/utils"
)

var batchWorkers int

// batchResult is one output line of a batch run
type batchResult struct {
	Input     string `json:"input"`
	URL       string `json:"url,omitempty"`
	Source    string `json:"source,omitempty"`
	Quality   string `json:"quality,omitempty"`
	Error     string `json:"error,omitempty"`
	Type      string `json:"type,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

var batchCmd = &cobra.Command{
	Use:   "batch <FILE>",
	Short: "Resolve many files listed one per line",
	Long: `Resolve every entry of FILE and print one JSON result per line, in input
order. Each line is a drive path, a numeric fs_id or a share link; blank lines
and lines starting with # are skipped. Use - to read from stdin.

Examples:
  panplay batch paths.txt
  panplay batch --workers 8 paths.txt > results.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := io.Reader(os.Stdin)
		if args[0] != "-" {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open batch file: %v", err)
			}
			defer file.Close()
			in = file
		}

		entries, err := readBatchEntries(in)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("no entries in %s", args[0])
		}

		cred, err := loadCredential()
		if err != nil {
			return reportError(err)
		}
		rt, err := newRuntime(config)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		internal.LogInfo("Resolving %d entries with %d workers", len(entries), batchWorkers)
		tracker := utils.NewProgressTracker(len(entries), config.QuietMode)
		tracker.SetOutput(os.Stderr)

		results := runBatch(ctx, rt.pipeline, cred, entries, batchWorkers, tracker)
		summary := tracker.Finish()

		for _, result := range results {
			if err := printJSONLine(os.Stdout, result); err != nil {
				return err
			}
		}

		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d entries failed", summary.Failed, summary.Total)
		}
		return nil
	},
}

// readBatchEntries returns the non-blank, non-comment lines of r
func readBatchEntries(r io.Reader) ([]string, error) {
	var entries []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch file: %v", err)
	}
	return entries, nil
}

// batchRequest classifies one entry as a share link, fs_id or path
func batchRequest(entry string, cred *internal.Credential) resolver.Request {
	req := resolver.Request{Quality: quality, Credential: cred}
	switch {
	case strings.HasPrefix(entry, "http://") || strings.HasPrefix(entry, "https://"):
		req.Kind = internal.KindShare
		req.ShareURL = entry
	default:
		if id, err := strconv.ParseInt(entry, 10, 64); err == nil {
			req.Kind = internal.KindFileID
			req.FileID = id
		} else {
			req.Kind = internal.KindPath
			req.Path = entry
		}
	}
	return req
}

// runBatch resolves entries with at most workers in flight. Results keep input order.
func runBatch(ctx context.Context, pipeline *resolver.Pipeline, cred *internal.Credential, entries []string, workers int, tracker *utils.ProgressTracker) []batchResult {
	if workers < 1 {
		workers = 1
	}

	results := make([]batchResult, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, entry := range entries {
		if gctx.Err() != nil {
			results[i] = batchResult{Input: entry, Error: "cancelled"}
			tracker.Record(false)
			continue
		}
		g.Go(func() error {
			result := batchResult{Input: entry}
			play, err := pipeline.Resolve(gctx, batchRequest(entry, cred))
			if err != nil {
				result.Error = err.Error()
				if perr, ok := internal.AsPanError(err); ok {
					result.Error = perr.Message
					result.Type = perr.Type.String()
					result.Retryable = perr.IsRetryable()
				}
			} else {
				result.URL = play.URL
				result.Source = play.Source
				result.Quality = play.Quality
			}
			results[i] = result
			tracker.Record(err == nil)
			return nil
		})
	}
	g.Wait()

	return results
}

func printJSONLine(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}

func init() {
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 4, "Concurrent resolutions")
}
