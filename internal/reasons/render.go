package reasons

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FFFF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	pathStyle   = cellStyle.MaxWidth(72)
)

// RenderPath prints a chain as (node) -[REL]-> (node).
func RenderPath(p Path) string {
	var b strings.Builder
	for _, e := range p.Elements {
		if e.IsNode() {
			label := e.Path
			if label == "" {
				label = e.NodeID
			}
			fmt.Fprintf(&b, "(%s)", label)
			continue
		}
		if e.Mandatorily != nil {
			fmt.Fprintf(&b, " -[%s {mandatorily: %t}]-> ", e.Relationship, *e.Mandatorily)
		} else {
			fmt.Fprintf(&b, " -[%s]-> ", e.Relationship)
		}
	}
	return b.String()
}

// Table summarizes records, one row per originating item.
func Table(records []PathRecord) string {
	if len(records) == 0 {
		return "No results."
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#00FFFF"))).
		Headers("File Path", "Direction", "Min Depth", "Mandatory").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return pathStyle
			}
			return cellStyle
		})
	for _, r := range records {
		dir := "to"
		if r.IsSource {
			dir = "from"
		}
		mand := "mixed"
		if r.Mandatorily != nil {
			mand = strconv.FormatBool(*r.Mandatorily)
		}
		t.Row(r.FilePath, dir, strconv.Itoa(r.MinDepth), mand)
	}
	return t.String()
}

// WriteJSON writes records to dir/OutputFile and returns the file path.
func WriteJSON(dir string, records []PathRecord) (string, error) {
	if records == nil {
		records = []PathRecord{}
	}
	b, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode reasons: %w", err)
	}
	path := filepath.Join(dir, OutputFile)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("write reasons: %w", err)
	}
	return path, nil
}
