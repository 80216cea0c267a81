package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/refactory-tech/refactory/internal/domain/transform"
	"github.com/refactory-tech/refactory/internal/fileutil"
)

// maxChangeFileSize bounds a single before/after content file (8MB).
const maxChangeFileSize = 8 << 20

// changeSet is the on-disk description of a transformation request. Content
// can be inline (after) or referenced (after_file); the before side defaults
// to the file's current content under the codebase root.
type changeSet struct {
	Branch  string        `yaml:"branch"`
	Changes []changeEntry `yaml:"changes"`
}

type changeEntry struct {
	Path       string   `yaml:"path"`
	Kind       string   `yaml:"kind"`
	Language   string   `yaml:"language"`
	Coverage   *float64 `yaml:"coverage"`
	DependsOn  []string `yaml:"depends_on"`
	Before     string   `yaml:"before"`
	BeforeFile string   `yaml:"before_file"`
	After      string   `yaml:"after"`
	AfterFile  string   `yaml:"after_file"`
}

// loadChangeSet reads a changeset file and resolves it into file changes.
func loadChangeSet(path, root string) (*changeSet, []transform.FileChange, error) {
	data, err := fileutil.ReadFileLimited(path, maxChangeFileSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read changeset: %w", err)
	}

	var cs changeSet
	if err := yaml.Unmarshal(data, &cs); err != nil {
		return nil, nil, fmt.Errorf("invalid changeset: %w", err)
	}
	if len(cs.Changes) == 0 {
		return nil, nil, fmt.Errorf("changeset %s lists no changes", path)
	}

	base := filepath.Dir(path)
	changes := make([]transform.FileChange, 0, len(cs.Changes))
	for i, entry := range cs.Changes {
		change, err := entry.resolve(base, root)
		if err != nil {
			return nil, nil, fmt.Errorf("change %d (%s): %w", i+1, entry.Path, err)
		}
		changes = append(changes, change)
	}
	return &cs, changes, nil
}

func (e changeEntry) resolve(base, root string) (transform.FileChange, error) {
	if e.Path == "" {
		return transform.FileChange{}, fmt.Errorf("missing path")
	}

	kind := transform.TransformationKind(e.Kind)
	if !kind.IsValid() {
		return transform.FileChange{}, fmt.Errorf("unknown kind %q", e.Kind)
	}

	language := transform.Language(e.Language)
	if language == "" {
		language = languageForPath(e.Path)
	}

	before, err := e.beforeContent(base, root)
	if err != nil {
		return transform.FileChange{}, err
	}
	after, err := resolveContent(e.After, e.AfterFile, base)
	if err != nil {
		return transform.FileChange{}, err
	}
	if after == nil {
		return transform.FileChange{}, fmt.Errorf("missing after content")
	}

	coverage := -1.0
	if e.Coverage != nil {
		coverage = *e.Coverage
	}

	return transform.FileChange{
		Path:      e.Path,
		Kind:      kind,
		Before:    before,
		After:     after,
		DependsOn: e.DependsOn,
		Language:  language,
		Coverage:  coverage,
	}, nil
}

// beforeContent prefers explicit content, then a referenced file, then the
// current file under the codebase root. A file new to the codebase has an
// empty before side.
func (e changeEntry) beforeContent(base, root string) ([]byte, error) {
	content, err := resolveContent(e.Before, e.BeforeFile, base)
	if err != nil || content != nil {
		return content, err
	}
	current, err := fileutil.ReadFileLimited(filepath.Join(root, e.Path), maxChangeFileSize)
	if err != nil {
		if os.IsNotExist(err) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("failed to read current content: %w", err)
	}
	return current, nil
}

func resolveContent(inline, file, base string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if file == "" {
		return nil, nil
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(base, file)
	}
	data, err := fileutil.ReadFileLimited(file, maxChangeFileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	return data, nil
}

func languageForPath(path string) transform.Language {
	switch filepath.Ext(path) {
	case ".go":
		return transform.LanguageGo
	case ".py":
		return transform.LanguagePython
	case ".ts", ".tsx":
		return transform.LanguageTypeScript
	case ".js", ".jsx":
		return transform.LanguageJavaScript
	default:
		return ""
	}
}
