package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"monay-hq/authz/pkg/policy/model"
)

// FileBackend loads rules and policies from a YAML bundle file or from a
// directory of bundle files. It is read-only: administrative writes return
// model.ErrReadOnly and changes are made by editing the files.
type FileBackend struct {
	path       string
	skipHidden bool
}

// NewFileBackend creates a backend reading path, which may be a single
// .yaml/.yml file or a directory searched recursively.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("rules path cannot be empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to access rules path: %w", err)
	}
	return &FileBackend{path: path, skipHidden: true}, nil
}

// Path returns the file or directory the backend reads.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Load(ctx context.Context) (*Bundle, error) {
	files, err := b.files()
	if err != nil {
		return nil, err
	}

	out := &Bundle{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bundle, err := LoadBundleFile(f)
		if err != nil {
			return nil, err
		}
		out.Rules = append(out.Rules, bundle.Rules...)
		out.Policies = append(out.Policies, bundle.Policies...)
	}
	return out, nil
}

func (b *FileBackend) files() ([]string, error) {
	info, err := os.Stat(b.path)
	if err != nil {
		return nil, fmt.Errorf("failed to access rules path: %w", err)
	}
	if !info.IsDir() {
		return []string{b.path}, nil
	}

	var files []string
	err = filepath.Walk(b.path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if b.skipHidden && path != b.path && strings.HasPrefix(filepath.Base(path), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() && isBundleFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan rules directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func (b *FileBackend) PutRule(ctx context.Context, rule *model.Rule, expectedVersion int64) error {
	return model.ErrReadOnly
}

func (b *FileBackend) PutPolicy(ctx context.Context, policy *model.MultisigPolicy, expectedVersion int64) error {
	return model.ErrReadOnly
}

func (b *FileBackend) Close() error {
	return nil
}

// LoadBundleFile parses one YAML bundle file. Unknown keys are rejected so
// that a misspelled field does not silently become a zero value.
func LoadBundleFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	bundle, err := ParseBundle(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return bundle, nil
}

// ParseBundle decodes a YAML bundle. Multiple documents in one stream are
// merged.
func ParseBundle(data []byte) (*Bundle, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	out := &Bundle{}
	for {
		var doc Bundle
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		out.Rules = append(out.Rules, doc.Rules...)
		out.Policies = append(out.Policies, doc.Policies...)
	}
	return out, nil
}

func isBundleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
