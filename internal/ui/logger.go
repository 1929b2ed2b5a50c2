package ui

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/contentkit/contentgraph/internal/logging"
)

// InteractiveLogger shows build progress on a terminal and keeps log lines
// from being overwritten by it. When output is not a terminal every call is
// a no-op apart from the log lines themselves.
type InteractiveLogger struct {
	logger       *logging.Logger
	mu           sync.Mutex
	lastLine     string
	isProgress   bool
	output       io.Writer
	stats        *Stats
	spinner      *Spinner
	showProgress bool
}

func NewInteractiveLogger(logger *logging.Logger, showProgress bool) *InteractiveLogger {
	return &InteractiveLogger{
		logger:       logger,
		output:       os.Stderr,
		stats:        NewStats(),
		showProgress: showProgress && isTerminal(os.Stderr),
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetProgress replaces the current progress line.
func (il *InteractiveLogger) SetProgress(message string) {
	if !il.showProgress {
		return
	}
	il.mu.Lock()
	defer il.mu.Unlock()
	il.setProgress(message)
}

func (il *InteractiveLogger) setProgress(message string) {
	if il.isProgress {
		il.clearLine()
	}
	io.WriteString(il.output, message+"\r")
	il.lastLine = message
	il.isProgress = true
}

func (il *InteractiveLogger) LogInfo(message string, args ...interface{}) {
	il.clearProgressAndLog(func() { il.logger.Infow(message, args...) })
}

func (il *InteractiveLogger) LogWarn(message string, args ...interface{}) {
	il.clearProgressAndLog(func() { il.logger.Warnw(message, args...) })
}

func (il *InteractiveLogger) LogError(message string, args ...interface{}) {
	il.clearProgressAndLog(func() { il.logger.Errorw(message, args...) })
}

func (il *InteractiveLogger) clearProgressAndLog(logFn func()) {
	il.mu.Lock()
	defer il.mu.Unlock()

	if il.showProgress && il.isProgress {
		il.clearLine()
		io.WriteString(il.output, "\n")
	}
	logFn()
	il.isProgress = false
	il.lastLine = ""
}

func (il *InteractiveLogger) clearLine() {
	if il.lastLine != "" {
		io.WriteString(il.output, "\r"+strings.Repeat(" ", len(il.lastLine))+"\r")
	}
}

// StartSpinner shows message with a spinner until StopSpinner.
func (il *InteractiveLogger) StartSpinner(message string) {
	if !il.showProgress {
		return
	}

	il.mu.Lock()
	sp := NewSpinner(message)
	sp.Start()
	il.spinner = sp
	il.mu.Unlock()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if !sp.IsActive() {
				return
			}
			il.SetProgress(sp.String())
		}
	}()
}

func (il *InteractiveLogger) StopSpinner() {
	il.mu.Lock()
	defer il.mu.Unlock()

	if il.spinner != nil {
		il.spinner.Stop()
		il.spinner = nil
	}
	if il.showProgress && il.isProgress {
		il.clearLine()
		il.isProgress = false
		il.lastLine = ""
	}
}

// SetTotal sets the number of packs the build will walk.
func (il *InteractiveLogger) SetTotal(total int64) {
	il.stats.SetTotal(total)
}

// UpdateProgress records build counters and redraws the progress line.
func (il *InteractiveLogger) UpdateProgress(packs, parsed, failed, edges int64) {
	il.stats.Update(packs, parsed, failed, edges)
	if !il.showProgress {
		return
	}
	if il.stats.ShouldLog() {
		il.SetProgress(il.stats.LogAndReset())
		return
	}
	if bar := il.stats.GetProgressBar(); bar != "" {
		il.SetProgress(bar)
	}
}

// Finish completes progress tracking and logs the summary.
func (il *InteractiveLogger) Finish() {
	il.mu.Lock()
	defer il.mu.Unlock()

	il.stats.Finish()
	if il.showProgress && il.isProgress {
		il.clearLine()
		io.WriteString(il.output, "\n")
	}
	il.logger.Info(il.stats.Summary())
	il.isProgress = false
	il.lastLine = ""
}

func (il *InteractiveLogger) GetStats() *Stats { return il.stats }

func (il *InteractiveLogger) Sync() error { return il.logger.Sync() }
