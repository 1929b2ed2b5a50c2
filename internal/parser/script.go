package parser

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/treewalk"
)

var executeCommandPattern = regexp.MustCompile(`(?i)execute_?command\(\s*['"]([\w-]+)['"]`)

// codeExtensions are tried, in order, when the script body lives next to the
// yml instead of inside it.
var codeExtensions = []string{".py", ".js", ".ps1"}

type script struct {
	*item
	isTest bool
}

func newScript(it *item) Parser {
	it.idField = "commonfields.id"
	return &script{item: it}
}

func (p *script) ObjectID() string { return p.commonID() }

func (p *script) Data() map[string]any {
	tags := treewalk.Strings(p.raw, "tags")
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"type":         scriptType(p.raw),
		"docker_image": treewalk.String(p.raw, "dockerimage"),
		"tags":         tags,
		"is_test":      p.isTest,
	}
}

// ConnectToDependencies records every command or script the script calls.
// The callee kind is unknown until the whole repository is loaded.
func (p *script) ConnectToDependencies() {
	for _, dep := range treewalk.Strings(treewalk.Map(p.raw, "dependson"), "must") {
		parts := strings.Split(dep, "|")
		p.addDependency(parts[len(parts)-1], contenttype.CommandOrScript, true)
	}
	for _, m := range executeCommandPattern.FindAllStringSubmatch(p.code(), -1) {
		p.addDependency(m[1], contenttype.CommandOrScript, true)
	}
	p.connectToTests()
}

// code returns the unified script body, or the sibling code file when the
// yml holds a placeholder.
func (p *script) code() string {
	body := treewalk.String(p.raw, "script")
	if body != "" && body != "-" {
		return body
	}
	dir := filepath.Dir(p.path)
	stem := strings.TrimSuffix(filepath.Base(p.path), filepath.Ext(p.path))
	for _, ext := range codeExtensions {
		for _, name := range []string{stem + ext, filepath.Base(dir) + ext} {
			if b, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
				return string(b)
			}
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, "_test.py") {
			continue
		}
		for _, ext := range codeExtensions {
			if filepath.Ext(name) == ext {
				if b, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
					return string(b)
				}
			}
		}
	}
	return ""
}

// newTestPlaybookOrScript handles the TestPlaybooks folder, which mixes test
// playbooks with test scripts.
func newTestPlaybookOrScript(it *item) Parser {
	if _, ok := it.raw["commonfields"]; ok {
		it.ct = contenttype.Script
		it.idField = "commonfields.id"
		return &script{item: it, isTest: true}
	}
	return newPlaybook(it)
}
