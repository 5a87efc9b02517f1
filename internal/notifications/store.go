package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/state"
)

// Record prepends n to the user's history and drops entries older than the
// retention window.
func (s *Notifier) Record(ctx context.Context, userID string, n Notification) (model.HistoryEntry, error) {
	defer s.store.Lock(userID, state.ResourceHistory)()

	entries, err := s.store.LoadHistory(ctx, userID)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	now := s.cfg.Clock().UTC()
	entry := model.HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		Title:     n.Title,
		Body:      n.Body,
		Data:      n.Data,
	}
	entries = append([]model.HistoryEntry{entry}, entries...)
	entries, _ = s.pruneEntries(entries, now)

	if err := s.store.SaveHistory(ctx, userID, entries); err != nil {
		return model.HistoryEntry{}, err
	}
	s.logger.Debug("Recorded notification", "user_id", userID, "id", entry.ID)
	return entry, nil
}

// History returns the user's notifications, newest first.
func (s *Notifier) History(ctx context.Context, userID string) ([]model.HistoryEntry, error) {
	defer s.store.Lock(userID, state.ResourceHistory)()

	entries, err := s.store.LoadHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	return entries, nil
}

// SetRead marks one entry read or unread.
func (s *Notifier) SetRead(ctx context.Context, userID, id string, read bool) error {
	return s.editHistory(ctx, userID, func(entries []model.HistoryEntry) ([]model.HistoryEntry, error) {
		for i := range entries {
			if entries[i].ID == id {
				entries[i].IsRead = read
				return entries, nil
			}
		}
		return nil, fmt.Errorf("history entry %s: %w", id, ErrNotFound)
	})
}

// DeleteEntry removes one entry.
func (s *Notifier) DeleteEntry(ctx context.Context, userID, id string) error {
	return s.editHistory(ctx, userID, func(entries []model.HistoryEntry) ([]model.HistoryEntry, error) {
		for i := range entries {
			if entries[i].ID == id {
				return append(entries[:i], entries[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("history entry %s: %w", id, ErrNotFound)
	})
}

// ClearHistory removes every entry and returns how many there were.
func (s *Notifier) ClearHistory(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.editHistory(ctx, userID, func(entries []model.HistoryEntry) ([]model.HistoryEntry, error) {
		n = len(entries)
		return []model.HistoryEntry{}, nil
	})
	return n, err
}

// PruneHistory drops entries older than the retention window and returns
// how many were removed. Nothing is written when nothing expired.
func (s *Notifier) PruneHistory(ctx context.Context, userID string) (int, error) {
	defer s.store.Lock(userID, state.ResourceHistory)()

	entries, err := s.store.LoadHistory(ctx, userID)
	if err != nil {
		return 0, err
	}
	kept, removed := s.pruneEntries(entries, s.cfg.Clock().UTC())
	if removed == 0 {
		return 0, nil
	}
	if err := s.store.SaveHistory(ctx, userID, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Notifier) editHistory(ctx context.Context, userID string, edit func([]model.HistoryEntry) ([]model.HistoryEntry, error)) error {
	defer s.store.Lock(userID, state.ResourceHistory)()

	entries, err := s.store.LoadHistory(ctx, userID)
	if err != nil {
		return err
	}
	entries, err = edit(entries)
	if err != nil {
		return err
	}
	return s.store.SaveHistory(ctx, userID, entries)
}

// pruneEntries keeps entries whose timestamp is within retention of now.
// Entries with no timestamp are kept.
func (s *Notifier) pruneEntries(entries []model.HistoryEntry, now time.Time) ([]model.HistoryEntry, int) {
	cutoff := now.Add(-s.cfg.Retention)
	kept := entries[:0]
	for _, e := range entries {
		if !e.Timestamp.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	return kept, len(entries) - len(kept)
}
