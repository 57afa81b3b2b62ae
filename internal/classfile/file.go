package classfile

import (
	"fmt"
	"io"
	"os"
)

// MaxFileSize bounds the input accepted by ReadBytes and ReadFile.
const MaxFileSize = 64 << 20

// ReadBytes reads a class file, rejecting directories and files over
// MaxFileSize before any of the content is read.
func ReadBytes(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("classfile: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("classfile: stat: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("classfile: %s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return nil, malformed(0, nil, "file is %d bytes, limit %d", info.Size(), MaxFileSize)
	}

	// The file may grow between Stat and read.
	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("classfile: read: %w", err)
	}
	if len(data) > MaxFileSize {
		return nil, malformed(0, nil, "file exceeds %d bytes", MaxFileSize)
	}
	return data, nil
}

// ReadFile opens and parses a class file.
func ReadFile(path string) (*ClassModel, error) {
	data, err := ReadBytes(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
