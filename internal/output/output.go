// Package output writes classprobe results to files. Every file is written
// to a temporary sibling and renamed into place, so a failed run never
// leaves a partial file behind.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteClass writes an instrumented class file.
func WriteClass(path string, data []byte) error {
	return writeAtomic(path, data, 0644)
}

// WriteReportJSON writes v as indented JSON.
func WriteReportJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return writeAtomic(path, append(data, '\n'), 0644)
}

// WriteDOT writes dot to <dir>/<name>.dot and returns the path.
// name may contain characters such as '<' or '(' from method names; they
// are replaced so the file name stays portable.
func WriteDOT(dir, name, dot string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("output: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(name)+".dot")
	return path, writeAtomic(path, []byte(dot), 0644)
}

// FileName maps a method or class name to a safe file name.
func FileName(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-', c == '.':
			b.WriteRune(c)
		case c == '<' || c == '>':
			// <init> → init
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	tmp := f.Name()
	cleanup := func() { os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		cleanup()
		return fmt.Errorf("output: chmod %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return fmt.Errorf("output: close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return fmt.Errorf("output: rename %s: %w", path, err)
	}
	return nil
}
