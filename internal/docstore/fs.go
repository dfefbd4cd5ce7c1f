package docstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/triage-ai/reftriage/internal/engine"
)

// FileStore serves documents from a directory laid out as
// <root>/<category>/<id>.md.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Fetch reads the document's markdown file. The title is the first
// "# " heading, or the id when there is none.
func (s *FileStore) Fetch(ctx context.Context, ref engine.DocumentRef) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validSegment(ref.Category) || !validSegment(ref.ID) {
		return nil, fmt.Errorf("FileStore.Fetch %s: %w", ref, ErrNotFound)
	}

	path := filepath.Join(s.root, ref.Category, ref.ID+".md")
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("FileStore.Fetch %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("FileStore.Fetch %s: %w", ref, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("FileStore.Fetch %s: %w", ref, err)
	}

	content := string(data)
	return &Document{
		Ref:       ref,
		Title:     titleOf(content, ref.ID),
		Content:   content,
		UpdatedAt: info.ModTime().UTC(),
	}, nil
}

// validSegment rejects anything that could escape the root directory.
func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`) && !strings.ContainsRune(s, 0)
}

func titleOf(content, fallback string) string {
	for line := range strings.Lines(content) {
		line = strings.TrimSpace(line)
		if title, ok := strings.CutPrefix(line, "# "); ok {
			return strings.TrimSpace(title)
		}
	}
	return fallback
}
