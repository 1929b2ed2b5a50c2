package parser

import (
	"sort"
	"strings"

	"github.com/contentkit/contentgraph/internal/treewalk"
)

// alternateBranches lead to paths a playbook run may skip. Everything else,
// including the implicit "#none#" branch of regular tasks, is followed on
// every run.
var alternateBranches = map[string]struct{}{
	"no":        {},
	"#default#": {},
	"else":      {},
}

func isAlternateBranch(branch string) bool {
	_, ok := alternateBranches[strings.ToLower(strings.TrimSpace(branch))]
	return ok
}

// mandatoryTasks returns the ids of tasks reachable from the start task
// without taking an alternate branch. Tasks missing from the result are
// optional, unreachable ones included.
func mandatoryTasks(playbook map[string]any) map[string]bool {
	tasks := treewalk.Map(playbook, "tasks")
	start := treewalk.String(playbook, "starttaskid")
	mandatory := make(map[string]bool)
	if _, ok := tasks[start]; !ok {
		return mandatory
	}

	mandatory[start] = true
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		task := treewalk.Map(tasks, id)
		next := treewalk.Map(task, "nexttasks")
		branches := make([]string, 0, len(next))
		for b := range next {
			branches = append(branches, b)
		}
		sort.Strings(branches)
		for _, branch := range branches {
			if isAlternateBranch(branch) {
				continue
			}
			for _, target := range treewalk.Strings(next, branch) {
				if mandatory[target] {
					continue
				}
				if _, ok := tasks[target]; !ok {
					continue
				}
				mandatory[target] = true
				queue = append(queue, target)
			}
		}
	}
	return mandatory
}
