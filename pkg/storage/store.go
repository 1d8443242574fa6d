// Package storage owns the working-storage layout shared by rooms and
// synthesis: one output file and one completion marker per execution, plus a
// single consolidated report.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	filePrefix   = "agent-"
	outputSuffix = "-output.md"
	markerSuffix = "-complete.flag"

	// FinalOutputName is the consolidated report written by synthesis.
	FinalOutputName = "final-output.md"
	// FailedMarker is the marker content for a failed execution.
	FailedMarker    = "FAILED"
)

// ErrMalformedName is returned for output file names that do not carry a
// provider and a numeric timestamp.
var ErrMalformedName = errors.New("malformed output file name")

// RoomOutput is one persisted execution output.
type RoomOutput struct {
	Provider    string `json:"provider"`
	ExecutionID string `json:"execution_id"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
	Path        string `json:"path"`
}

// Store reads and writes execution files under BasePath.
type Store struct {
	BasePath string
}

// Open returns a store rooted at basePath, creating the directory.
func Open(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	return &Store{BasePath: basePath}, nil
}

// At returns a store rooted at basePath without touching the filesystem.
func At(basePath string) *Store {
	return &Store{BasePath: basePath}
}

// OutputFilename is the output file name for an execution id.
func OutputFilename(id string) string {
	return filePrefix + id + outputSuffix
}

// MarkerFilename is the completion marker file name for an execution id.
func MarkerFilename(id string) string {
	return filePrefix + id + markerSuffix
}

// OutputPath returns the output file path for an execution id.
func (s *Store) OutputPath(id string) string {
	return filepath.Join(s.BasePath, OutputFilename(id))
}

// MarkerPath returns the marker file path for an execution id.
func (s *Store) MarkerPath(id string) string {
	return filepath.Join(s.BasePath, MarkerFilename(id))
}

// FinalOutputPath returns the consolidated report path.
func (s *Store) FinalOutputPath() string {
	return filepath.Join(s.BasePath, FinalOutputName)
}

// WriteOutput persists output text and returns the file path.
func (s *Store) WriteOutput(id, content string) (string, error) {
	path := s.OutputPath(id)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write output %s: %w", id, err)
	}
	return path, nil
}

// WriteMarker persists the completion marker.
func (s *Store) WriteMarker(id, content string) error {
	if err := os.WriteFile(s.MarkerPath(id), []byte(content), 0644); err != nil {
		return fmt.Errorf("write marker %s: %w", id, err)
	}
	return nil
}

// ReadOutput returns persisted output text. The bool is false when the file
// does not exist or cannot be read.
func (s *Store) ReadOutput(id string) (string, bool) {
	data, err := os.ReadFile(s.OutputPath(id))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// HasMarker reports whether the marker file exists.
func (s *Store) HasMarker(id string) bool {
	_, err := os.Stat(s.MarkerPath(id))
	return err == nil
}

// WriteFinalOutput writes the consolidated report, replacing any previous one.
func (s *Store) WriteFinalOutput(content string) (string, error) {
	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return "", fmt.Errorf("create working directory: %w", err)
	}
	path := s.FinalOutputPath()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write final output: %w", err)
	}
	return path, nil
}

// ListOutputs returns the names of all persisted output files, sorted.
// A missing directory yields an empty list.
func (s *Store) ListOutputs() ([]string, error) {
	return s.list(isOutputFile)
}

// Cleanup deletes every output and marker file and returns how many were
// removed. Other files, including the final report, are left alone.
func (s *Store) Cleanup() (int, error) {
	names, err := s.list(func(name string) bool {
		return isOutputFile(name) || isMarkerFile(name)
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range names {
		err := os.Remove(filepath.Join(s.BasePath, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", name, err)
		}
		if err == nil {
			removed++
		}
	}
	return removed, nil
}

// Collect reads every well-formed output file, sorted ascending by the
// timestamp in its name. Malformed names are returned in skipped instead of
// failing the whole collection.
func (s *Store) Collect() (outputs []RoomOutput, skipped []error, err error) {
	names, err := s.ListOutputs()
	if err != nil {
		return nil, nil, err
	}

	for _, name := range names {
		provider, ts, perr := ParseOutputFilename(name)
		if perr != nil {
			skipped = append(skipped, perr)
			continue
		}
		path := filepath.Join(s.BasePath, name)
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			skipped = append(skipped, fmt.Errorf("read %s: %w", name, rerr))
			continue
		}
		outputs = append(outputs, RoomOutput{
			Provider:    provider,
			ExecutionID: strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), outputSuffix),
			Content:     string(data),
			Timestamp:   ts,
			Path:        path,
		})
	}

	sort.SliceStable(outputs, func(i, j int) bool {
		return outputs[i].Timestamp < outputs[j].Timestamp
	})
	return outputs, skipped, nil
}

// ParseOutputFilename extracts provider and timestamp from a name of the form
// agent-<provider>-<millis>[-<suffix>]-output.md.
func ParseOutputFilename(name string) (string, int64, error) {
	if !isOutputFile(name) {
		return "", 0, fmt.Errorf("%w: %s", ErrMalformedName, name)
	}
	parts := strings.Split(name, "-")
	if len(parts) < 3 || parts[1] == "" {
		return "", 0, fmt.Errorf("%w: %s", ErrMalformedName, name)
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s: timestamp %q", ErrMalformedName, name, parts[2])
	}
	return parts[1], ts, nil
}

func (s *Store) list(match func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read working directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !match(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func isOutputFile(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, outputSuffix) &&
		len(name) > len(filePrefix)+len(outputSuffix)
}

func isMarkerFile(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, markerSuffix) &&
		len(name) > len(filePrefix)+len(markerSuffix)
}
