package utils

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
)

// ProgressTracker displays progress of a batch of resolutions
type ProgressTracker struct {
	bar       *pb.ProgressBar
	quiet     bool
	out       io.Writer
	startTime time.Time
	total     int
	succeeded int
	failed    int
	mutex     sync.Mutex
}

// BatchSummary contains final batch statistics
type BatchSummary struct {
	Total     int
	Succeeded int
	Failed    int
	TotalTime time.Duration
}

// NewProgressTracker creates a tracker for total items. A quiet tracker draws nothing.
func NewProgressTracker(total int, quiet bool) *ProgressTracker {
	tracker := &ProgressTracker{
		quiet:     quiet,
		out:       os.Stdout,
		startTime: time.Now(),
		total:     total,
	}

	if !quiet {
		tmpl := `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{string . "status"}} {{etime . }}`
		bar := pb.ProgressBarTemplate(tmpl).New(total)
		bar.SetWriter(os.Stderr)
		bar.Set("prefix", "Resolving: ")
		tracker.bar = bar.Start()
	}

	return tracker
}

// SetOutput redirects the summary output
func (p *ProgressTracker) SetOutput(w io.Writer) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.out = w
}

// Record counts one finished item
func (p *ProgressTracker) Record(ok bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if ok {
		p.succeeded++
	} else {
		p.failed++
	}

	if p.bar != nil {
		p.bar.Increment()
		p.bar.Set("status", fmt.Sprintf("ok:%d failed:%d", p.succeeded, p.failed))
	}
}

// Finish completes the progress bar and returns the batch summary
func (p *ProgressTracker) Finish() *BatchSummary {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.bar != nil {
		p.bar.Finish()
	}

	summary := &BatchSummary{
		Total:     p.total,
		Succeeded: p.succeeded,
		Failed:    p.failed,
		TotalTime: time.Since(p.startTime),
	}

	if !p.quiet {
		fmt.Fprintf(p.out, "\nResolved %d/%d (%d failed) in %v\n",
			summary.Succeeded, summary.Total, summary.Failed, summary.TotalTime.Round(time.Millisecond))
	}

	return summary
}

// IsQuiet returns whether the tracker is in quiet mode
func (p *ProgressTracker) IsQuiet() bool {
	return p.quiet
}

// FormatBytes formats byte count as human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
