package builder

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/contentkit/contentgraph/internal/contenttype"
)

// PacksDir is the folder under the repository root holding one folder per
// pack.
const PacksDir = "Packs"

var itemExtensions = map[string]bool{".yml": true, ".yaml": true, ".json": true}

var codeExtensions = map[string]bool{".py": true, ".js": true, ".ps1": true}

// itemFile is one content file found in a type folder, with the files the
// parser reads alongside it.
type itemFile struct {
	path     string
	ct       contenttype.ContentType
	siblings []string
}

// listPacks returns the pack folders of a repository in name order.
func listPacks(repo string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(repo, PacksDir))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !hidden(e.Name()) {
			out = append(out, filepath.Join(repo, PacksDir, e.Name()))
		}
	}
	return out, nil
}

// typeFolders maps each sub-folder of a pack to its content type. Folders
// that are not content (ReleaseNotes, doc_files, ...) come back in unknown.
func typeFolders(packDir string) (known map[string]contenttype.ContentType, unknown []string, err error) {
	entries, err := os.ReadDir(packDir)
	if err != nil {
		return nil, nil, err
	}
	known = make(map[string]contenttype.ContentType)
	for _, e := range entries {
		if !e.IsDir() || hidden(e.Name()) {
			continue
		}
		ct, err := contenttype.ByFolder(e.Name())
		if err != nil {
			unknown = append(unknown, e.Name())
			continue
		}
		known[filepath.Join(packDir, e.Name())] = ct
	}
	return known, unknown, nil
}

// itemFiles lists the items of one type folder. Flat files are items of
// their own; a sub-folder holds one item, preferably the file named after
// the folder.
func itemFiles(dir string, ct contenttype.ContentType) ([]itemFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []itemFile
	for _, e := range entries {
		name := e.Name()
		if hidden(name) {
			continue
		}
		full := filepath.Join(dir, name)
		if !e.IsDir() {
			if itemExtensions[strings.ToLower(filepath.Ext(name))] {
				out = append(out, itemFile{path: full, ct: ct})
			}
			continue
		}
		f, ok, err := folderItem(full, ct)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func folderItem(dir string, ct contenttype.ContentType) (itemFile, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return itemFile{}, false, err
	}
	base := filepath.Base(dir)
	var candidates, code []string
	for _, e := range entries {
		if e.IsDir() || hidden(e.Name()) {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		switch {
		case itemExtensions[ext]:
			candidates = append(candidates, name)
		case codeExtensions[ext] && !strings.HasSuffix(name, "_test.py"):
			code = append(code, filepath.Join(dir, name))
		}
	}
	if len(candidates) == 0 {
		return itemFile{}, false, nil
	}
	sort.Strings(candidates)
	chosen := candidates[0]
	for _, c := range candidates {
		if strings.TrimSuffix(c, filepath.Ext(c)) == base {
			chosen = c
			break
		}
	}
	return itemFile{path: filepath.Join(dir, chosen), ct: ct, siblings: code}, true, nil
}

func hidden(name string) bool { return strings.HasPrefix(name, ".") }
