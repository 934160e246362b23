// Package storage persists chat subscriptions, the last processed file and
// the per-group baselines.
//
// Every mutation goes through Store.Update, which runs the callback against a
// private copy of the state and commits it only when it was saved, so the
// watcher and chat handlers never interleave partial writes.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/noahxzhu/timetable-notify/internal/model"
)

// ErrPersistence wraps failures to write state to disk.
var ErrPersistence = errors.New("persist state")

// Store is implemented by JSONStore and SQLiteStore.
type Store interface {
	// Snapshot returns a deep copy of the current state.
	Snapshot() (*model.State, error)
	// Update applies fn to a copy of the state and persists the result.
	// If fn or the save fails nothing changes.
	Update(fn func(*model.State) error) error
	Close() error
}

const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// Open returns the store for driver. A JSON state file that cannot be read
// is logged and replaced by an empty state.
func Open(driver, path string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch driver {
	case "", DriverJSON:
		s := NewJSONStore(path)
		if err := s.Load(); err != nil {
			logger.Warn("Failed to load state, starting empty", "path", path, "error", err)
		}
		return s, nil
	case DriverSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// Subscriptions returns the chats of state ordered by chat id.
func Subscriptions(state *model.State) []model.Subscription {
	subs := make([]model.Subscription, 0, len(state.Chats))
	for _, sub := range state.Chats {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ChatID < subs[j].ChatID })
	return subs
}

// BindGroup subscribes chatID to group and turns its notifications on.
func BindGroup(s Store, chatID int64, group string) error {
	return s.Update(func(state *model.State) error {
		state.Chats[chatID] = model.Subscription{ChatID: chatID, Group: group, Notifications: true}
		return nil
	})
}

// ChatGroup returns the group bound to chatID.
func ChatGroup(s Store, chatID int64) (string, bool, error) {
	state, err := s.Snapshot()
	if err != nil {
		return "", false, err
	}
	sub, ok := state.Chats[chatID]
	if !ok || sub.Group == "" {
		return "", false, nil
	}
	return sub.Group, true, nil
}

// ToggleNotifications flips notifications for chatID. exists is false when
// the chat has no group bound.
func ToggleNotifications(s Store, chatID int64) (exists, enabled bool, err error) {
	err = s.Update(func(state *model.State) error {
		sub, ok := state.Chats[chatID]
		if !ok {
			return nil
		}
		exists = true
		sub.Notifications = !sub.Notifications
		enabled = sub.Notifications
		state.Chats[chatID] = sub
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return exists, enabled, nil
}
