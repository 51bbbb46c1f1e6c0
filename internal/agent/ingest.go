package agent

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Document is one ingested requirement source.
type Document struct {
	// Path is the source file path
	Path string

	// MediaType is text/markdown, text/plain or application/json
	MediaType string

	// Content is the raw file content
	Content string
}

var mediaTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".json":     "application/json",
}

// loadInputDocuments reads requirement documents from a file or
// directory. A missing or empty path yields no documents; only real
// I/O failures surface as errors.
func loadInputDocuments(path string) ([]Document, error) {
	if path == "" {
		return nil, nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat input docs %s: %w", path, err)
	}

	var files []string
	if info.IsDir() {
		walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := mediaTypes[strings.ToLower(filepath.Ext(p))]; ok {
				files = append(files, p)
			}
			return nil
		})
		if walkErr != nil {
			return nil, fmt.Errorf("failed to scan input docs %s: %w", path, walkErr)
		}
		sort.Strings(files)
	} else if _, ok := mediaTypes[strings.ToLower(filepath.Ext(path))]; ok {
		files = []string{path}
	}

	docs := make([]Document, 0, len(files))
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read input doc %s: %w", file, err)
		}
		docs = append(docs, Document{
			Path:      file,
			MediaType: mediaTypes[strings.ToLower(filepath.Ext(file))],
			Content:   string(content),
		})
	}
	return docs, nil
}

// firstLine returns the first non-empty line of text, trimmed.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
