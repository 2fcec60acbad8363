// Package profiler collects per-frame call counts and timings from the
// sequencer. It only observes: nothing it records feeds back into
// scheduling.
package profiler

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// FrameStats holds the aggregate of one named frame.
type FrameStats struct {
	Name       string        `json:"name"`
	Calls      int64         `json:"calls"`
	Increments int64         `json:"increments"`
	Total      time.Duration `json:"total_ns"`
	TotalStr   string        `json:"total"`
	Self       time.Duration `json:"self_ns"`
	SelfStr    string        `json:"self"`
}

type frame struct {
	name       string
	calls      int64
	increments int64
	total      time.Duration
	self       time.Duration
}

type openRecord struct {
	id      int
	start   time.Time
	childNs time.Duration
}

// Profiler records timing brackets keyed by named frames. Brackets nest:
// time spent in an inner bracket is excluded from the outer frame's self
// time.
type Profiler struct {
	enabled bool
	now     func() time.Time

	mu     sync.Mutex
	names  map[string]int
	frames []*frame
	open   []openRecord
}

// New creates a profiler. If enabled is false, all operations are no-ops.
func New(enabled bool) *Profiler {
	return &Profiler{
		enabled: enabled,
		now:     time.Now,
		names:   make(map[string]int),
	}
}

// Enabled returns true if profiling is enabled.
func (p *Profiler) Enabled() bool {
	return p != nil && p.enabled
}

// FrameID returns the id for name, registering it on first use.
func (p *Profiler) FrameID(name string) int {
	if p == nil {
		return -1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.names[name]; ok {
		return id
	}
	id := len(p.frames)
	p.names[name] = id
	p.frames = append(p.frames, &frame{name: name})
	return id
}

// Start opens a bracket for frame id.
func (p *Profiler) Start(id int, _ any) {
	if !p.Enabled() {
		return
	}
	p.mu.Lock()
	p.open = append(p.open, openRecord{id: id, start: p.now()})
	p.mu.Unlock()
}

// Stop closes the innermost open bracket.
func (p *Profiler) Stop() {
	if !p.Enabled() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.open)
	if n == 0 {
		return
	}
	rec := p.open[n-1]
	p.open = p.open[:n-1]

	elapsed := p.now().Sub(rec.start)
	if rec.id >= 0 && rec.id < len(p.frames) {
		f := p.frames[rec.id]
		f.calls++
		f.total += elapsed
		f.self += elapsed - rec.childNs
	}
	if n > 1 {
		p.open[n-2].childNs += elapsed
	}
}

// Increment counts one occurrence of frame id.
func (p *Profiler) Increment(id int) {
	if !p.Enabled() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id >= 0 && id < len(p.frames) {
		p.frames[id].increments++
	}
}

// Report returns the recorded frames, busiest first.
func (p *Profiler) Report() []FrameStats {
	if !p.Enabled() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]FrameStats, 0, len(p.frames))
	for _, f := range p.frames {
		if f.calls == 0 && f.increments == 0 {
			continue
		}
		out = append(out, FrameStats{
			Name:       f.name,
			Calls:      f.calls,
			Increments: f.increments,
			Total:      f.total,
			TotalStr:   formatDuration(f.total),
			Self:       f.self,
			SelfStr:    formatDuration(f.self),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Reset discards everything recorded so far. Frame ids stay valid.
func (p *Profiler) Reset() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.frames {
		*f = frame{name: f.name}
	}
	p.open = p.open[:0]
}

// WriteReport writes a human-readable table of the report to w.
func (p *Profiler) WriteReport(w io.Writer) {
	stats := p.Report()
	if len(stats) == 0 {
		fmt.Fprintln(w, "profile: no samples")
		return
	}
	fmt.Fprintf(w, "%-32s %12s %12s %12s %12s\n", "FRAME", "CALLS", "COUNT", "TOTAL", "SELF")
	for _, s := range stats {
		fmt.Fprintf(w, "%-32s %12s %12s %12s %12s\n",
			s.Name,
			humanize.Comma(s.Calls),
			humanize.Comma(s.Increments),
			s.TotalStr,
			s.SelfStr,
		)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
