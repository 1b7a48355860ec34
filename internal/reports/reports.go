// Package reports stores committed transcripts as timestamped text files and
// reads them back.
package reports

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	filePrefix = "transcript_"
	fileSuffix = ".txt"
	timeLayout = "2006-01-02_15-04-05"
)

var (
	// ErrNotFound reports a missing transcript file.
	ErrNotFound = errors.New("report not found")
	// ErrInvalidName rejects names that are not plain transcript file names.
	ErrInvalidName = errors.New("invalid report name")
)

// Report is one stored transcript.
type Report struct {
	Name    string
	Path    string
	SavedAt time.Time
	Size    int64
}

// FileName returns the transcript file name for a save at t.
func FileName(t time.Time) string {
	return filePrefix + t.Format(timeLayout) + fileSuffix
}

// Save writes text (trimmed) into dir under a timestamped name. A second
// save within the same second gets a numeric suffix instead of overwriting.
func Save(dir string, text string, now time.Time) (Report, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Report{}, fmt.Errorf("create transcript dir: %w", err)
	}

	base := strings.TrimSuffix(FileName(now), fileSuffix)
	payload := []byte(strings.TrimSpace(text))
	for attempt := 1; attempt <= 100; attempt++ {
		name := base + fileSuffix
		if attempt > 1 {
			name = fmt.Sprintf("%s_%d%s", base, attempt, fileSuffix)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return Report{}, fmt.Errorf("create transcript file: %w", err)
		}
		if _, err := f.Write(payload); err != nil {
			_ = f.Close()
			return Report{}, fmt.Errorf("write transcript file: %w", err)
		}
		if err := f.Close(); err != nil {
			return Report{}, fmt.Errorf("close transcript file: %w", err)
		}
		return Report{Name: name, Path: path, SavedAt: now, Size: int64(len(payload))}, nil
	}
	return Report{}, fmt.Errorf("too many transcripts saved at %s", now.Format(timeLayout))
}

// List returns stored transcripts, newest first. A missing dir is empty.
func List(dir string) ([]Report, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}

	reports := make([]Report, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isReportName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		reports = append(reports, Report{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			SavedAt: savedAt(entry.Name(), info.ModTime()),
			Size:    info.Size(),
		})
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Name > reports[j].Name
	})
	return reports, nil
}

// Read returns the contents of the named transcript. Names must be plain
// file names inside dir.
func Read(dir string, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}

func isReportName(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}

// savedAt parses the timestamp embedded in name, falling back to modTime.
func savedAt(name string, modTime time.Time) time.Time {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	if len(stamp) > len(timeLayout) {
		stamp = stamp[:len(timeLayout)]
	}
	t, err := time.ParseInLocation(timeLayout, stamp, time.Local)
	if err != nil {
		return modTime
	}
	return t
}
