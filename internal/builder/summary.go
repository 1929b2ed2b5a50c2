package builder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/contentkit/contentgraph/internal/store"
)

// Summary reports one build or update. Items that failed to parse are
// listed in Errors and left out of the graph.
type Summary struct {
	RunID          string        `json:"run_id"`
	Packs          int           `json:"packs"`
	Parsed         int           `json:"parsed"`
	Cached         int           `json:"cached"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	Resolved       int           `json:"resolved"`
	UnknownFolders []string      `json:"unknown_folders,omitempty"`
	Nodes          int           `json:"nodes"`
	Edges          int           `json:"edges"`
	Duration       time.Duration `json:"duration"`

	Errors    []error                     `json:"-"`
	Ambiguous []*AmbiguousDependencyError `json:"-"`
}

// Err is non-nil when any item failed to parse.
func (s *Summary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d items failed to parse: %w", s.Failed, s.Parsed+s.Failed, errors.Join(s.Errors...))
}

func (s *Summary) String() string {
	return fmt.Sprintf("packs=%d parsed=%d cached=%d skipped=%d failed=%d ambiguous=%d nodes=%d edges=%d",
		s.Packs, s.Parsed, s.Cached, s.Skipped, s.Failed, len(s.Ambiguous), s.Nodes, s.Edges)
}

// AmbiguousDependencyError is a call that still names no single command or
// script once the whole repository is loaded. The edge is kept as
// USES_COMMAND_OR_SCRIPT.
type AmbiguousDependencyError struct {
	store.Ambiguity
}

func (e *AmbiguousDependencyError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("%s (%s): %q matches no command or script", e.SourceNodeID, e.SourcePath, e.Target)
	}
	return fmt.Sprintf("%s (%s): %q matches %s", e.SourceNodeID, e.SourcePath, e.Target, strings.Join(e.Candidates, ", "))
}
