package tui

import (
	"sync"

	"github.com/handleui/caliper/internal/engine"
)

// FileStatus tracks where a pipeline file is in a batch run.
type FileStatus string

const (
	FilePending   FileStatus = "pending"
	FileAnalyzing FileStatus = "analyzing"
	FileDone      FileStatus = "done"
	FileFailed    FileStatus = "failed"
	FileSkipped   FileStatus = "skipped"
)

// TrackedFile represents a pipeline file being tracked in the TUI.
type TrackedFile struct {
	Path   string
	Status FileStatus
	Report *engine.Report
}

// FileTracker manages file state based on batch analysis events.
type FileTracker struct {
	mu         sync.RWMutex
	files      []*TrackedFile
	fileByPath map[string]*TrackedFile
}

// NewFileTracker creates a new file tracker with every path pending.
func NewFileTracker(paths []string) *FileTracker {
	t := &FileTracker{
		files:      make([]*TrackedFile, 0, len(paths)),
		fileByPath: make(map[string]*TrackedFile),
	}

	for _, path := range paths {
		tf := &TrackedFile{
			Path:   path,
			Status: FilePending,
		}
		t.files = append(t.files, tf)
		t.fileByPath[path] = tf
	}

	return t
}

// MarkAnalyzing moves a pending file into the analyzing state.
// Returns true if the status changed.
func (t *FileTracker) MarkAnalyzing(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	file := t.fileByPath[path]
	if file == nil {
		return false
	}
	if file.Status != FilePending {
		return false
	}
	file.Status = FileAnalyzing
	return true
}

// MarkDone records the report for a file. A report that failed to parse
// marks the file failed rather than done.
// Returns true if the status changed.
func (t *FileTracker) MarkDone(path string, report *engine.Report) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	file := t.fileByPath[path]
	if file == nil {
		return false
	}
	if file.Status == FileDone || file.Status == FileFailed {
		return false
	}

	file.Report = report
	if report != nil && report.Failed() {
		file.Status = FileFailed
	} else {
		file.Status = FileDone
	}
	return true
}

// MarkRemainingSkipped marks files that never produced a report as
// skipped. Called when the batch ends before every file was analyzed,
// typically after a cancellation.
func (t *FileTracker) MarkRemainingSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, file := range t.files {
		switch file.Status {
		case FilePending, FileAnalyzing:
			file.Status = FileSkipped
		case FileDone, FileFailed, FileSkipped:
			// Already settled, no change needed
		}
	}
}

// Files returns all tracked files in order.
func (t *FileTracker) Files() []*TrackedFile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.files
}
