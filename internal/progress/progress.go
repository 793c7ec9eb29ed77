// Package progress renders a single-line progress bar for a running analysis.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Stats is one progress sample.
type Stats struct {
	Visited   int
	Budget    int // 0 when the total is unknown
	Endpoints int
	Mentions  int64
	Errors    int
}

// Display manages progress bar display during an analysis.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	last      Stats
	startTime time.Time
	target    string
	lastLine  string
}

// New creates a progress display writing to out, or stderr when out is nil.
func New(out io.Writer) *Display {
	if out == nil {
		out = os.Stderr
	}
	return &Display{out: out}
}

// Start begins the progress display.
func (d *Display) Start(target string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true
	d.startTime = time.Now()
	d.target = target
}

// Update redraws the bar with s.
func (d *Display) Update(s Stats) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.last = s
	if !d.started || d.stopped {
		return
	}

	elapsed := time.Since(d.startTime)
	speed := float64(0)
	if elapsed.Seconds() > 0 {
		speed = float64(s.Visited) / elapsed.Seconds()
	}

	var line string
	if pct := percent(s); pct >= 0 {
		barWidth := 30
		filled := pct * barWidth / 100
		bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
		line = fmt.Sprintf("\r[%s] %3d%% | Units: %d/%d | Endpoints: %d | Errors: %d | %.1f u/s | %s",
			bar, pct, s.Visited, s.Budget, s.Endpoints, s.Errors, speed, formatDuration(elapsed))
	} else {
		line = fmt.Sprintf("\rUnits: %d | Endpoints: %d | Errors: %d | %.1f u/s | %s",
			s.Visited, s.Endpoints, s.Errors, speed, formatDuration(elapsed))
	}

	// Clear previous line and print new one
	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// percent returns the share of the budget used, capped at 99 while running,
// or -1 when there is no budget.
func percent(s Stats) int {
	if s.Budget <= 0 {
		return -1
	}
	pct := s.Visited * 100 / s.Budget
	if pct > 99 {
		pct = 99
	}
	return pct
}

// Watch samples poll every interval until ctx is done.
func (d *Display) Watch(ctx context.Context, interval time.Duration, poll func() Stats) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Update(poll())
		}
	}
}

// Stop ends the bar line.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}
	d.stopped = true
	fmt.Fprintln(d.out)
}

// PrintSummary prints the final counters under status.
func (d *Display) PrintSummary(status string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	duration := time.Since(d.startTime)
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(d.out, "║                      Analysis Complete                       ║")
	fmt.Fprintln(d.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(d.out)
	fmt.Fprintf(d.out, "  Source:              %s\n", truncate(d.target, 50))
	fmt.Fprintf(d.out, "  Status:              %s\n", status)
	fmt.Fprintf(d.out, "  Duration:            %s\n", formatDuration(duration))
	fmt.Fprintf(d.out, "  Units Visited:       %d\n", d.last.Visited)
	fmt.Fprintf(d.out, "  Mentions:            %d\n", d.last.Mentions)
	fmt.Fprintf(d.out, "  Endpoints:           %d\n", d.last.Endpoints)
	fmt.Fprintf(d.out, "  Errors:              %d\n", d.last.Errors)
	fmt.Fprintln(d.out)
}

// Last returns the most recent sample.
func (d *Display) Last() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
