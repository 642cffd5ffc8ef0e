package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

// FsConfig locates a filesystem journal.
type FsConfig struct {
	// BaseURL is the afs location holding the journal directories; any
	// scheme the afs service understands works (file, mem, s3, gs, ...).
	BaseURL string
}

// fsRecord is the on-disk form of one journal entry.
type fsRecord[T any] struct {
	ID         string     `json:"id"`
	Event      *Event[T]  `json:"event"`
	Error      string     `json:"error,omitempty"`
	AppendedAt time.Time  `json:"appendedAt"`
	SettledAt  *time.Time `json:"settledAt,omitempty"`
}

// FsJournal persists transition events through afs so a run leaves a
// durable trail: unconsumed entries sit under pending/, consumed ones move
// to archive/ and skipped ones to discarded/ with the reason recorded.
type FsJournal[T any] struct {
	fs           afs.Service
	pendingDir   string
	archiveDir   string
	discardedDir string
	mu           sync.Mutex
}

// NewFsJournal creates a filesystem journal rooted at config.BaseURL.
func NewFsJournal[T any](fs afs.Service, config FsConfig) (*FsJournal[T], error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	j := &FsJournal[T]{
		fs:           fs,
		pendingDir:   path.Join(config.BaseURL, "pending"),
		archiveDir:   path.Join(config.BaseURL, "archive"),
		discardedDir: path.Join(config.BaseURL, "discarded"),
	}
	ctx := context.Background()
	for _, dir := range []string{j.pendingDir, j.archiveDir, j.discardedDir} {
		exists, _ := fs.Exists(ctx, dir)
		if exists {
			continue
		}
		if err := fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return j, nil
}

// Append writes a new record into the pending directory. Record names start
// with a nanosecond stamp so lexical order is arrival order.
func (j *FsJournal[T]) Append(ctx context.Context, event *Event[T]) error {
	record := &fsRecord[T]{
		ID:         uuid.New().String(),
		Event:      event,
		AppendedAt: time.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}
	name := fmt.Sprintf("%d-%s.json", record.AppendedAt.UnixNano(), record.ID)
	target := path.Join(j.pendingDir, name)
	if err := j.fs.Upload(ctx, target, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to append journal record %s: %w", target, err)
	}
	return nil
}

// Next returns the oldest pending entry, or (nil, nil) when the journal has
// been fully consumed. The entry's record stays in pending/ until it is
// settled with Done or Discard.
func (j *FsJournal[T]) Next(ctx context.Context) (Entry[T], error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	objects, err := j.fs.List(ctx, j.pendingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	var name, URL string
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		if name == "" || object.Name() < name {
			name = object.Name()
			URL = object.URL()
		}
	}
	if name == "" {
		return nil, nil
	}

	record, err := j.read(ctx, URL)
	if err != nil {
		// A record that cannot be decoded is moved aside so the journal
		// keeps draining.
		_ = j.fs.Move(ctx, URL, path.Join(j.discardedDir, "corrupt-"+name))
		return nil, err
	}
	return &fsEntry[T]{journal: j, record: record, name: name}, nil
}

func (j *FsJournal[T]) read(ctx context.Context, URL string) (*fsRecord[T], error) {
	reader, err := j.fs.OpenURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal record %s: %w", URL, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal record %s: %w", URL, err)
	}
	record := &fsRecord[T]{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("failed to decode journal record %s: %w", URL, err)
	}
	return record, nil
}

type fsEntry[T any] struct {
	journal *FsJournal[T]
	record  *fsRecord[T]
	name    string
	mu      sync.Mutex
	settled bool
}

func (e *fsEntry[T]) Event() *Event[T] {
	return e.record.Event
}

func (e *fsEntry[T]) Done() error {
	return e.settle(e.journal.archiveDir, nil)
}

func (e *fsEntry[T]) Discard(err error) error {
	return e.settle(e.journal.discardedDir, err)
}

func (e *fsEntry[T]) settle(destDir string, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settled {
		return fmt.Errorf("journal entry already settled")
	}
	e.settled = true

	now := time.Now()
	e.record.SettledAt = &now
	if cause != nil {
		e.record.Error = cause.Error()
	}
	data, err := json.Marshal(e.record)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}
	ctx := context.Background()
	if err := e.journal.fs.Upload(ctx, path.Join(destDir, e.name), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to settle journal record %s: %w", e.name, err)
	}
	return e.journal.fs.Delete(ctx, path.Join(e.journal.pendingDir, e.name))
}

// ensure FsJournal implements the Journal interface
var _ Journal[any] = (*FsJournal[any])(nil)
