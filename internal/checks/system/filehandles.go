package system

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const fileNrPath = "/proc/sys/fs/file-nr"

// FileHandles reports kernel file handle usage from /proc/sys/fs/file-nr.
// On platforms without procfs the check reports nothing.
type FileHandles struct {
	path string
}

func NewFileHandles() *FileHandles { return &FileHandles{path: fileNrPath} }

func (f *FileHandles) Name() string { return "filehandles" }

func (f *FileHandles) Collect() (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	// Three fields: allocated, unused, maximum.
	fields := strings.Fields(strings.TrimSpace(string(data)))
	if len(fields) < 3 {
		return nil, fmt.Errorf("unexpected file-nr format: %q", strings.TrimSpace(string(data)))
	}
	allocated, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil, fmt.Errorf("parse file-nr allocated: %w", err)
	}
	maximum, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return nil, fmt.Errorf("parse file-nr maximum: %w", err)
	}

	out := map[string]any{
		"fhAlloc": allocated,
		"fhMax":   maximum,
	}
	if maximum > 0 {
		out["fhPctUsed"] = 100 * allocated / maximum
	}
	return out, nil
}
