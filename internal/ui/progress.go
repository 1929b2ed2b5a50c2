package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ProgressBar represents a simple progress bar
type ProgressBar struct {
	mu          sync.RWMutex
	total       int64
	current     int64
	width       int
	startTime   time.Time
	lastUpdate  time.Time
	description string
	finished    bool
}

func NewProgressBar(total int64, description string) *ProgressBar {
	return &ProgressBar{
		total:       total,
		width:       40,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		description: description,
	}
}

func (pb *ProgressBar) Add(n int64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.set(pb.current + n)
}

func (pb *ProgressBar) Set(current int64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.set(current)
}

func (pb *ProgressBar) set(current int64) {
	pb.current = current
	if pb.current > pb.total {
		pb.current = pb.total
	}
	pb.lastUpdate = time.Now()
}

func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.current = pb.total
	pb.finished = true
	pb.lastUpdate = time.Now()
}

// String renders the bar, the rate and either the ETA or the total time.
func (pb *ProgressBar) String() string {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	percent := 100.0
	if pb.total > 0 {
		percent = float64(pb.current) / float64(pb.total) * 100
	}
	filled := int(float64(pb.width) * percent / 100)

	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.width-filled)
	result := fmt.Sprintf("%s [%s] %d/%d (%.1f%%)", pb.description, bar, pb.current, pb.total, percent)

	elapsed := pb.lastUpdate.Sub(pb.startTime)
	if pb.current > 0 && elapsed > 0 {
		rate := float64(pb.current) / elapsed.Seconds()
		result += fmt.Sprintf(" %.1f/s", rate)
		if !pb.finished {
			eta := time.Duration(float64(pb.total-pb.current)/rate) * time.Second
			result += fmt.Sprintf(" ETA: %v", eta.Round(time.Second))
		}
	}
	if pb.finished {
		result += fmt.Sprintf(" [DONE in %v]", elapsed.Round(time.Millisecond))
	}
	return result
}

// Stats tracks a build: packs walked, items parsed, items that failed and
// edges written.
type Stats struct {
	mu          sync.RWMutex
	packs       int64
	parsed      int64
	failed      int64
	edges       int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	progressBar *ProgressBar
}

func NewStats() *Stats {
	return &Stats{
		startTime:   time.Now(),
		lastLogTime: time.Now(),
		logInterval: 10 * time.Second,
	}
}

// SetTotal sets the number of packs to walk.
func (s *Stats) SetTotal(total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if total > 0 {
		s.progressBar = NewProgressBar(total, "Parsing packs")
	}
}

func (s *Stats) Update(packs, parsed, failed, edges int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packs, s.parsed, s.failed, s.edges = packs, parsed, failed, edges
	if s.progressBar != nil {
		s.progressBar.Set(packs)
	}
}

// Counts returns parsed and failed items so far.
func (s *Stats) Counts() (parsed, failed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.parsed), int(s.failed)
}

func (s *Stats) ShouldLog() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastLogTime) >= s.logInterval
}

// LogAndReset renders the current counters and restarts the log timer.
func (s *Stats) LogAndReset() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastLogTime = time.Now()
	elapsed := s.lastLogTime.Sub(s.startTime)
	return fmt.Sprintf("Progress: %d packs, %d items parsed, %d failed (%.1f%% errors), %d edges, %.1f items/sec",
		s.packs, s.parsed, s.failed, errorRate(s.parsed, s.failed), s.edges, float64(s.parsed)/elapsed.Seconds())
}

func (s *Stats) GetProgressBar() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.progressBar != nil {
		return s.progressBar.String()
	}
	return ""
}

func (s *Stats) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progressBar != nil {
		s.progressBar.Finish()
	}
}

func (s *Stats) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	elapsed := time.Since(s.startTime)
	return fmt.Sprintf("Final summary: %d packs in %v, %d items parsed, %d failed (%.1f%% errors), %d edges written",
		s.packs, elapsed.Round(time.Millisecond), s.parsed, s.failed, errorRate(s.parsed, s.failed), s.edges)
}

func errorRate(parsed, failed int64) float64 {
	if parsed+failed == 0 {
		return 0
	}
	return float64(failed) / float64(parsed+failed) * 100
}

// Spinner marks phases without a known size, such as dependency inference.
type Spinner struct {
	mu       sync.Mutex
	chars    []rune
	current  int
	active   bool
	message  string
	lastSpin time.Time
	interval time.Duration
}

func NewSpinner(message string) *Spinner {
	return &Spinner{
		chars:    []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'},
		message:  message,
		interval: 100 * time.Millisecond,
	}
}

func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.lastSpin = time.Now()
}

func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

func (s *Spinner) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ""
	}
	now := time.Now()
	if now.Sub(s.lastSpin) >= s.interval {
		s.current = (s.current + 1) % len(s.chars)
		s.lastSpin = now
	}
	return fmt.Sprintf("%c %s", s.chars[s.current], s.message)
}

func (s *Spinner) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
