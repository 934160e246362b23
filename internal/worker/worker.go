package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noahxzhu/timetable-notify/internal/diff"
	"github.com/noahxzhu/timetable-notify/internal/format"
	"github.com/noahxzhu/timetable-notify/internal/links"
	"github.com/noahxzhu/timetable-notify/internal/model"
	"github.com/noahxzhu/timetable-notify/internal/parser"
	"github.com/noahxzhu/timetable-notify/internal/source"
	"github.com/noahxzhu/timetable-notify/internal/storage"
)

// DefaultInterval is the pause between two cycles, whatever their outcome.
const DefaultInterval = 300 * time.Second

// ErrNoLinks is returned when the source page lists no timetable files.
var ErrNoLinks = errors.New("no schedule links found")

// Source lists and downloads timetable files.
type Source interface {
	Links(ctx context.Context) ([]model.Link, error)
	Download(ctx context.Context, link model.Link, force bool) (source.Document, error)
}

// GridReader turns a downloaded file into a grid.
type GridReader interface {
	Read(path string) (model.Grid, error)
}

// Dispatcher delivers one formatted message to one chat.
type Dispatcher interface {
	Deliver(ctx context.Context, chatID int64, text string) error
}

// Result summarizes one cycle.
type Result struct {
	CycleID   string    `json:"cycle_id"`
	StartedAt time.Time `json:"started_at"`
	File      string    `json:"file,omitempty"`
	Unchanged bool      `json:"unchanged"`
	Groups    int       `json:"groups"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
}

// Watcher polls the source page and notifies subscribed chats when a new
// timetable file appears.
type Watcher struct {
	store      storage.Store
	source     Source
	reader     GridReader
	dispatcher Dispatcher
	interval   time.Duration
	now        func() time.Time
	logger     *slog.Logger
	updateChan chan struct{}

	mu   sync.Mutex
	last *Result
}

// NewWatcher creates a Watcher. If interval is <= 0, it defaults to
// DefaultInterval.
func NewWatcher(store storage.Store, src Source, reader GridReader, dispatcher Dispatcher, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		store:      store,
		source:     src,
		reader:     reader,
		dispatcher: dispatcher,
		interval:   interval,
		now:        time.Now,
		logger:     slog.Default(),
		updateChan: make(chan struct{}, 1),
	}
}

// Refresh signals the watcher to run a cycle now instead of waiting.
func (w *Watcher) Refresh() {
	select {
	case w.updateChan <- struct{}{}:
	default:
		// Channel already has a pending signal, no need to block
	}
}

// LastResult returns the outcome of the most recent cycle.
func (w *Watcher) LastResult() (Result, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return Result{}, false
	}
	return *w.last, true
}

// Start runs cycles until ctx is cancelled. A failed cycle is logged and
// the loop carries on after the usual delay.
func (w *Watcher) Start(ctx context.Context) {
	w.logger.Info("Watcher started", "interval", w.interval)

	for {
		result, err := w.RunOnce(ctx)
		w.logResult(result, err)

		timer := time.NewTimer(w.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("Watcher stopped")
			return
		case <-w.updateChan:
			timer.Stop()
			w.logger.Info("Watcher received refresh signal")
		case <-timer.C:
		}
	}
}

// RunOnce performs one fetch, decide, dispatch and persist cycle.
func (w *Watcher) RunOnce(ctx context.Context) (result Result, err error) {
	result = Result{CycleID: uuid.NewString(), StartedAt: w.now()}
	logger := w.logger.With("cycle_id", result.CycleID)

	defer func() {
		if err != nil {
			result.Error = err.Error()
		}
		w.mu.Lock()
		r := result
		w.last = &r
		w.mu.Unlock()
	}()

	state, err := w.store.Snapshot()
	if err != nil {
		return result, fmt.Errorf("load state: %w", err)
	}

	// Fetching
	found, err := w.source.Links(ctx)
	if err != nil {
		return result, err
	}
	link, ok := links.Select(found)
	if !ok {
		return result, ErrNoLinks
	}

	// Deciding
	doc, err := w.source.Download(ctx, link, true)
	if err != nil {
		return result, fmt.Errorf("download %s: %w", link.URL, err)
	}
	result.File = doc.Name
	digest := Digest(doc.Content)
	if sameFile(state, doc.Name, digest) {
		result.Unchanged = true
		return result, nil
	}
	logger.Info("New schedule file", "file", doc.Name, "digest", digest, "description", link.Description)

	grid, err := w.reader.Read(doc.Path)
	if err != nil {
		return result, fmt.Errorf("read %s: %w", doc.Name, err)
	}

	var date string
	if d, ok := links.Date(link, w.now()); ok {
		date = format.DayLabel(d)
	}

	// Dispatching
	extracted := make(map[string]model.Schedule)
	for _, sub := range storage.Subscriptions(state) {
		if sub.Group == "" || !sub.Notifications {
			continue
		}
		key := parser.NormalizeGroup(sub.Group)
		schedule, seen := extracted[key]
		if !seen {
			schedule = parser.ParseGroup(grid, sub.Group)
			extracted[key] = schedule
		}
		if len(schedule) == 0 {
			logger.Debug("Group not in file, skipping", "chat_id", sub.ChatID, "group", sub.Group)
			continue
		}

		previous, known := state.Baselines[key]
		text := format.Notification(sub.Group, date, diff.Compare(schedule, previous), known)
		if err := w.dispatcher.Deliver(ctx, sub.ChatID, text); err != nil {
			result.Failed++
			logger.Error("Failed to deliver schedule", "chat_id", sub.ChatID, "group", sub.Group, "error", err)
			continue
		}
		result.Delivered++
	}

	// Persisting
	name := doc.Name
	err = w.store.Update(func(s *model.State) error {
		for key, schedule := range extracted {
			if len(schedule) > 0 {
				s.Baselines[key] = schedule
			}
		}
		s.LastFile = &name
		s.LastHash = &digest
		return nil
	})
	for _, schedule := range extracted {
		if len(schedule) > 0 {
			result.Groups++
		}
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

// Digest is the hex SHA-256 of a file's content. It is persisted, so the
// algorithm must not change.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// sameFile reports whether both the name and the digest match the last
// processed file; a change in either one means a new file.
func sameFile(state *model.State, name, digest string) bool {
	return state.LastFile != nil && *state.LastFile == name &&
		state.LastHash != nil && *state.LastHash == digest
}

func (w *Watcher) logResult(result Result, err error) {
	logger := w.logger.With("cycle_id", result.CycleID)
	switch {
	case err == nil && result.Unchanged:
		logger.Info("Schedule unchanged", "file", result.File)
	case err == nil:
		logger.Info("Cycle finished", "file", result.File, "groups", result.Groups,
			"delivered", result.Delivered, "failed", result.Failed)
	case errors.Is(err, source.ErrFetch):
		logger.Warn("Source unreachable", "error", err)
	case errors.Is(err, ErrNoLinks):
		logger.Warn("No schedule links on page")
	case errors.Is(err, storage.ErrPersistence):
		logger.Error("Failed to save state; the file will be processed again", "file", result.File,
			"delivered", result.Delivered, "error", err)
	default:
		logger.Error("Cycle failed", "error", err)
	}
}
