// Package prompt implements the PromptSource port backing component E, the
// Prompt Composer: policy and template bodies are loaded from disk the way
// internal/infra/config.Load reads configs/config.yaml, falling back to
// the embedded defaults baked into the binary when no on-disk override
// exists for a given name.
package prompt

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed defaults/policies/*.md defaults/templates/*.md
var defaultsFS embed.FS

// FileSource loads policy/template bodies from Dir (policies/<name>.md,
// templates/<version>.md), falling back to the embedded defaults shipped
// with the binary when Dir is empty or the file isn't there.
type FileSource struct {
	Dir string
}

// NewFileSource constructs a source rooted at dir. An empty dir means
// "embedded defaults only".
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

// LoadPolicy returns the named policy's raw body.
func (s *FileSource) LoadPolicy(name string) (string, bool, error) {
	return s.load("policies", name)
}

// LoadTemplate returns the named template version's raw body.
func (s *FileSource) LoadTemplate(version string) (string, bool, error) {
	return s.load("templates", version)
}

func (s *FileSource) load(kind, name string) (string, bool, error) {
	if s.Dir != "" {
		path := filepath.Join(s.Dir, kind, name+".md")
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), true, nil
		}
		if !os.IsNotExist(err) {
			return "", false, fmt.Errorf("read %s %q: %w", kind, name, err)
		}
	}

	data, err := defaultsFS.ReadFile(fmt.Sprintf("defaults/%s/%s.md", kind, name))
	if err != nil {
		return "", false, nil
	}
	return string(data), true, nil
}
