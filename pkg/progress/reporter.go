package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Reporter draws single-line progress updates for long operations
type Reporter struct {
	output      io.Writer
	showSpinner bool
	updateRate  time.Duration
}

// NewReporter creates a reporter that redraws every 100ms
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{
		output:      w,
		showSpinner: true,
		updateRate:  100 * time.Millisecond,
	}
}

// NewQuietReporter creates a reporter that only prints the final line
func NewQuietReporter(w io.Writer) *Reporter {
	return &Reporter{output: w, updateRate: time.Second}
}

// Tracker tracks progress for one operation
type Tracker struct {
	reporter  *Reporter
	name      string
	total     int64
	current   int64
	startTime time.Time

	mu     sync.RWMutex
	status string

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// StartOperation begins tracking an operation of total steps
func (r *Reporter) StartOperation(name string, total int64) *Tracker {
	t := &Tracker{
		reporter:  r,
		name:      name,
		total:     total,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}

	if r.showSpinner {
		t.wg.Add(1)
		go r.displayProgress(t)
	}
	return t
}

func (r *Reporter) displayProgress(t *Tracker) {
	defer t.wg.Done()
	ticker := time.NewTicker(r.updateRate)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			fmt.Fprint(r.output, t.line(spinnerFrames[frame%len(spinnerFrames)], false))
		}
	}
}

// line renders the progress line; the final form ends the line
func (t *Tracker) line(spinner string, final bool) string {
	current := atomic.LoadInt64(&t.current)
	elapsed := time.Since(t.startTime)

	t.mu.RLock()
	status := t.status
	t.mu.RUnlock()

	if final {
		return fmt.Sprintf("\r\033[K%s: %d/%d | Duration: %s ✓\n", t.name, current, t.total, formatDuration(elapsed))
	}

	barWidth := 20
	filled := 0
	if t.total > 0 {
		filled = int(current * int64(barWidth) / t.total)
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	out := fmt.Sprintf("\r\033[K%s %s: [%s] %d/%d | Elapsed: %s", spinner, t.name, bar, current, t.total, formatDuration(elapsed))
	if status != "" {
		out += " | " + status
	}
	return out
}

// Increment advances the counter by delta
func (t *Tracker) Increment(delta int64) {
	atomic.AddInt64(&t.current, delta)
}

// SetStatus sets the trailing status text
func (t *Tracker) SetStatus(status string) {
	t.mu.Lock()
	t.status = status
	t.mu.Unlock()
}

// Current returns the number of completed steps
func (t *Tracker) Current() int64 {
	return atomic.LoadInt64(&t.current)
}

// Complete stops the display and prints the final line. Safe to call more
// than once.
func (t *Tracker) Complete() {
	t.once.Do(func() {
		close(t.done)
		t.wg.Wait()
		fmt.Fprint(t.reporter.output, t.line("", true))
	})
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
}
