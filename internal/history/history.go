// Package history keeps a bounded, per-tool log of prior invocations so a
// tool UI can resume or revisit them. Each scope is persisted as one JSON
// blob; a missing or corrupt blob reads as empty history.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxItems = 10

	maxTitleRunes   = 80
	maxPreviewRunes = 120
)

type KV interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type Item struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Preview   string          `json:"preview,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// state is the persisted envelope: the newest-first item list plus the
// selection and in-flight session pointers.
type state struct {
	Items      []Item `json:"items"`
	SelectedID string `json:"selected_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

func (st *state) contains(id string) bool {
	for _, item := range st.Items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// trim evicts records beyond the cap. Eviction is a removal, so pointers at
// evicted records are cleared the same way RemoveItem clears them.
func (st *state) trim(max int) {
	if len(st.Items) <= max {
		return
	}
	st.Items = st.Items[:max]

	if st.SelectedID != "" && !st.contains(st.SelectedID) {
		st.SelectedID = ""
	}
	if st.SessionID != "" && !st.contains(st.SessionID) {
		st.SessionID = ""
	}
}

// Store operates on one tool scope. Instances are cheap; handlers construct
// one per request around the shared KV.
type Store struct {
	kv       KV
	scope    string
	maxItems int
}

func NewStore(kv KV, scope string, maxItems int) *Store {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	return &Store{kv: kv, scope: scope, maxItems: maxItems}
}

// AddItem always appends a new record at the head, evicting the oldest
// records beyond the per-scope cap.
func (s *Store) AddItem(ctx context.Context, title string, data json.RawMessage, preview string) (Item, error) {
	st := s.load(ctx)

	item := Item{
		ID:        uuid.NewString(),
		Title:     truncate(title, maxTitleRunes),
		Preview:   truncate(preview, maxPreviewRunes),
		CreatedAt: time.Now(),
		Data:      data,
	}

	st.Items = append([]Item{item}, st.Items...)
	st.trim(s.maxItems)

	if err := s.save(ctx, st); err != nil {
		return Item{}, err
	}
	return item, nil
}

// UpdateCurrentSession keeps one evolving record: the first call mints a
// session identifier and inserts, later calls overwrite that record in place
// instead of appending.
func (s *Store) UpdateCurrentSession(ctx context.Context, title string, data json.RawMessage, preview string) (Item, error) {
	st := s.load(ctx)

	title = truncate(title, maxTitleRunes)
	preview = truncate(preview, maxPreviewRunes)

	if st.SessionID != "" {
		for i := range st.Items {
			if st.Items[i].ID == st.SessionID {
				st.Items[i].Title = title
				st.Items[i].Preview = preview
				st.Items[i].Data = data

				if err := s.save(ctx, st); err != nil {
					return Item{}, err
				}
				return st.Items[i], nil
			}
		}
		// The session record was evicted or removed; start a new one.
	}

	item := Item{
		ID:        uuid.NewString(),
		Title:     title,
		Preview:   preview,
		CreatedAt: time.Now(),
		Data:      data,
	}

	st.SessionID = item.ID
	st.Items = append([]Item{item}, st.Items...)
	st.trim(s.maxItems)

	if err := s.save(ctx, st); err != nil {
		return Item{}, err
	}
	return item, nil
}

// EndSession forgets the in-flight session pointer, so the next
// UpdateCurrentSession starts a fresh record.
func (s *Store) EndSession(ctx context.Context) error {
	st := s.load(ctx)
	if st.SessionID == "" {
		return nil
	}
	st.SessionID = ""
	return s.save(ctx, st)
}

// SelectItem marks an item as the active selection and returns its payload.
// An unknown identifier is not an error: stale UI state triggers this, so it
// is logged and reported as a miss.
func (s *Store) SelectItem(ctx context.Context, id string) (json.RawMessage, bool) {
	st := s.load(ctx)

	for _, item := range st.Items {
		if item.ID == id {
			st.SelectedID = id
			if err := s.save(ctx, st); err != nil {
				slog.Warn("history: persist selection",
					slog.String("scope", s.scope),
					slog.String("error", err.Error()),
				)
			}
			return item.Data, true
		}
	}

	slog.Info("history: select of unknown item",
		slog.String("scope", s.scope),
		slog.String("id", id),
	)
	return nil, false
}

// RemoveItem deletes one record, clearing the selection and session pointers
// if they referenced it.
func (s *Store) RemoveItem(ctx context.Context, id string) error {
	st := s.load(ctx)

	kept := st.Items[:0]
	removed := false
	for _, item := range st.Items {
		if item.ID == id {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	if !removed {
		return nil
	}

	st.Items = kept
	if st.SelectedID == id {
		st.SelectedID = ""
	}
	if st.SessionID == id {
		st.SessionID = ""
	}

	return s.save(ctx, st)
}

func (s *Store) ClearHistory(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.key()); err != nil {
		return fmt.Errorf("history clear %q: %w", s.scope, err)
	}
	return nil
}

// Items returns the scope's records, newest first.
func (s *Store) Items(ctx context.Context) []Item {
	return s.load(ctx).Items
}

func (s *Store) SelectedID(ctx context.Context) string {
	return s.load(ctx).SelectedID
}

func (s *Store) load(ctx context.Context) state {
	var st state

	data, ok, err := s.kv.Load(ctx, s.key())
	if err != nil {
		slog.Warn("history: load",
			slog.String("scope", s.scope),
			slog.String("error", err.Error()),
		)
		return st
	}
	if !ok {
		return st
	}

	if err := json.Unmarshal(data, &st); err != nil {
		// Corrupt blob: treat as empty rather than crash the tool.
		slog.Warn("history: corrupt blob, resetting",
			slog.String("scope", s.scope),
			slog.String("error", err.Error()),
		)
		return state{}
	}

	return st
}

func (s *Store) save(ctx context.Context, st state) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("history marshal %q: %w", s.scope, err)
	}

	if err := s.kv.Store(ctx, s.key(), data); err != nil {
		return fmt.Errorf("history store %q: %w", s.scope, err)
	}
	return nil
}

func (s *Store) key() string {
	return "history:" + s.scope
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
