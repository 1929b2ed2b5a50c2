package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/contentkit/contentgraph/internal/logging"
)

func TestProgressBar(t *testing.T) {
	pb := NewProgressBar(4, "Parsing packs")
	pb.Add(1)
	pb.Add(10)
	if !strings.Contains(pb.String(), "4/4 (100.0%)") {
		t.Errorf("expected progress to clamp at total, got %q", pb.String())
	}
	pb.Finish()
	if !strings.Contains(pb.String(), "[DONE in") {
		t.Errorf("expected finished bar, got %q", pb.String())
	}
}

func TestProgressBar_ZeroTotal(t *testing.T) {
	pb := NewProgressBar(0, "Parsing packs")
	if !strings.Contains(pb.String(), "0/0") {
		t.Errorf("unexpected render %q", pb.String())
	}
}

func TestStats(t *testing.T) {
	s := NewStats()
	s.SetTotal(2)
	s.Update(1, 8, 2, 30)

	parsed, failed := s.Counts()
	if parsed != 8 || failed != 2 {
		t.Errorf("expected 8 parsed and 2 failed, got %d and %d", parsed, failed)
	}
	if msg := s.LogAndReset(); !strings.Contains(msg, "(20.0% errors)") {
		t.Errorf("unexpected progress message %q", msg)
	}
	if !strings.Contains(s.GetProgressBar(), "1/2") {
		t.Errorf("expected pack progress, got %q", s.GetProgressBar())
	}
	if !strings.Contains(s.Summary(), "30 edges written") {
		t.Errorf("unexpected summary %q", s.Summary())
	}
}

func TestInteractiveLogger_NotTerminal(t *testing.T) {
	var buf bytes.Buffer
	il := NewInteractiveLogger(logging.Nop(), true)
	il.output = &buf
	il.showProgress = false

	il.SetTotal(3)
	il.UpdateProgress(1, 2, 0, 4)
	il.StartSpinner("inferring")
	il.StopSpinner()
	il.Finish()

	if buf.Len() != 0 {
		t.Errorf("expected nothing drawn without a terminal, got %q", buf.String())
	}
	if parsed, _ := il.GetStats().Counts(); parsed != 2 {
		t.Errorf("expected counters to be kept, got %d", parsed)
	}
}

func TestSpinner(t *testing.T) {
	s := NewSpinner("working")
	if s.String() != "" {
		t.Error("expected an idle spinner to render nothing")
	}
	s.Start()
	if !strings.HasSuffix(s.String(), "working") {
		t.Errorf("unexpected spinner %q", s.String())
	}
	s.Stop()
	if s.IsActive() {
		t.Error("expected spinner to stop")
	}
}
