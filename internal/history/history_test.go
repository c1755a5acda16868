package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

type memKV struct {
	m map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{m: make(map[string][]byte)}
}

func (kv *memKV) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok := kv.m[key]
	return data, ok, nil
}

func (kv *memKV) Store(ctx context.Context, key string, value []byte) error {
	kv.m[key] = value
	return nil
}

func (kv *memKV) Delete(ctx context.Context, key string) error {
	delete(kv.m, key)
	return nil
}

func TestAddItemCapsNewestFirst(t *testing.T) {
	store := NewStore(newMemKV(), "pdf-merge", 10)
	ctx := context.Background()

	for i := range 12 {
		_, err := store.AddItem(ctx, fmt.Sprintf("item %d", i), json.RawMessage(`{}`), "")
		if err != nil {
			t.Fatalf("AddItem error: %v", err)
		}
	}

	items := store.Items(ctx)
	if len(items) != 10 {
		t.Fatalf("got %d items, want 10", len(items))
	}
	if items[0].Title != "item 11" {
		t.Errorf("newest item = %q, want %q", items[0].Title, "item 11")
	}
	if items[9].Title != "item 2" {
		t.Errorf("oldest kept item = %q, want %q", items[9].Title, "item 2")
	}
}

func TestAddItemTruncatesTitleAndPreview(t *testing.T) {
	store := NewStore(newMemKV(), "pdf-merge", 10)

	longTitle := strings.Repeat("т", 200)
	item, err := store.AddItem(context.Background(), longTitle, json.RawMessage(`{}`), strings.Repeat("p", 500))
	if err != nil {
		t.Fatalf("AddItem error: %v", err)
	}

	if got := len([]rune(item.Title)); got != 80 {
		t.Errorf("title length = %d runes, want 80", got)
	}
	if got := len([]rune(item.Preview)); got != 120 {
		t.Errorf("preview length = %d runes, want 120", got)
	}
}

func TestUpdateCurrentSessionOverwritesInPlace(t *testing.T) {
	store := NewStore(newMemKV(), "transcode", 10)
	ctx := context.Background()

	first, err := store.UpdateCurrentSession(ctx, "draft 1", json.RawMessage(`{"v":1}`), "")
	if err != nil {
		t.Fatalf("UpdateCurrentSession error: %v", err)
	}
	second, err := store.UpdateCurrentSession(ctx, "draft 2", json.RawMessage(`{"v":2}`), "")
	if err != nil {
		t.Fatalf("UpdateCurrentSession error: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("session record changed identity: %q -> %q", first.ID, second.ID)
	}

	items := store.Items(ctx)
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Title != "draft 2" {
		t.Errorf("Title = %q, want the latest write", items[0].Title)
	}
}

func TestEndSessionStartsFreshRecord(t *testing.T) {
	store := NewStore(newMemKV(), "transcode", 10)
	ctx := context.Background()

	first, _ := store.UpdateCurrentSession(ctx, "a", json.RawMessage(`{}`), "")
	if err := store.EndSession(ctx); err != nil {
		t.Fatalf("EndSession error: %v", err)
	}
	second, _ := store.UpdateCurrentSession(ctx, "b", json.RawMessage(`{}`), "")

	if first.ID == second.ID {
		t.Error("a new session must mint a new record")
	}
	if got := len(store.Items(ctx)); got != 2 {
		t.Errorf("got %d items, want 2", got)
	}
}

func TestUpdateCurrentSessionAfterEviction(t *testing.T) {
	store := NewStore(newMemKV(), "transcode", 2)
	ctx := context.Background()

	session, _ := store.UpdateCurrentSession(ctx, "session", json.RawMessage(`{}`), "")
	store.AddItem(ctx, "one", json.RawMessage(`{}`), "")
	store.AddItem(ctx, "two", json.RawMessage(`{}`), "")

	// The session record fell off the end of the capped list.
	next, err := store.UpdateCurrentSession(ctx, "revived", json.RawMessage(`{}`), "")
	if err != nil {
		t.Fatalf("UpdateCurrentSession error: %v", err)
	}
	if next.ID == session.ID {
		t.Error("an evicted session record must not be resurrected")
	}
}

func TestSelectItem(t *testing.T) {
	store := NewStore(newMemKV(), "image-resize", 10)
	ctx := context.Background()

	item, _ := store.AddItem(ctx, "a", json.RawMessage(`{"width":800}`), "")

	t.Run("known item", func(t *testing.T) {
		data, found := store.SelectItem(ctx, item.ID)
		if !found {
			t.Fatal("expected the item to be found")
		}
		if string(data) != `{"width":800}` {
			t.Errorf("data = %s", data)
		}
		if store.SelectedID(ctx) != item.ID {
			t.Error("selection was not persisted")
		}
	})

	t.Run("unknown item", func(t *testing.T) {
		if _, found := store.SelectItem(ctx, "nope"); found {
			t.Fatal("unknown id must report a miss")
		}
		if store.SelectedID(ctx) != item.ID {
			t.Error("a miss must not disturb the existing selection")
		}
	})
}

func TestRemoveItemClearsPointers(t *testing.T) {
	store := NewStore(newMemKV(), "image-resize", 10)
	ctx := context.Background()

	item, _ := store.UpdateCurrentSession(ctx, "a", json.RawMessage(`{}`), "")
	store.SelectItem(ctx, item.ID)

	if err := store.RemoveItem(ctx, item.ID); err != nil {
		t.Fatalf("RemoveItem error: %v", err)
	}

	if got := len(store.Items(ctx)); got != 0 {
		t.Errorf("got %d items, want 0", got)
	}
	if store.SelectedID(ctx) != "" {
		t.Error("selection must be cleared with the removed item")
	}

	// The session pointer is gone too: the next update mints a new record.
	next, _ := store.UpdateCurrentSession(ctx, "b", json.RawMessage(`{}`), "")
	if next.ID == item.ID {
		t.Error("removed session record must not be reused")
	}
}

func TestEvictionClearsPointers(t *testing.T) {
	store := NewStore(newMemKV(), "image-resize", 3)
	ctx := context.Background()

	oldest, _ := store.AddItem(ctx, "oldest", json.RawMessage(`{}`), "")
	store.AddItem(ctx, "two", json.RawMessage(`{}`), "")
	store.AddItem(ctx, "three", json.RawMessage(`{}`), "")
	store.SelectItem(ctx, oldest.ID)

	// The fourth add pushes the selected record off the end of the cap.
	if _, err := store.AddItem(ctx, "four", json.RawMessage(`{}`), ""); err != nil {
		t.Fatalf("AddItem error: %v", err)
	}

	if got := len(store.Items(ctx)); got != 3 {
		t.Fatalf("got %d items, want 3", got)
	}
	if got := store.SelectedID(ctx); got != "" {
		t.Errorf("SelectedID = %q, must be cleared with the evicted item", got)
	}

	// A selection surviving the eviction is left alone.
	kept, _ := store.AddItem(ctx, "five", json.RawMessage(`{}`), "")
	store.SelectItem(ctx, kept.ID)
	store.AddItem(ctx, "six", json.RawMessage(`{}`), "")
	if store.SelectedID(ctx) != kept.ID {
		t.Error("a selection still in the list must survive eviction")
	}
}

func TestRemoveUnknownItemIsNoop(t *testing.T) {
	kv := newMemKV()
	store := NewStore(kv, "image-resize", 10)
	ctx := context.Background()

	store.AddItem(ctx, "a", json.RawMessage(`{}`), "")
	if err := store.RemoveItem(ctx, "nope"); err != nil {
		t.Fatalf("RemoveItem error: %v", err)
	}
	if got := len(store.Items(ctx)); got != 1 {
		t.Errorf("got %d items, want 1", got)
	}
}

func TestClearHistory(t *testing.T) {
	kv := newMemKV()
	store := NewStore(kv, "pdf-merge", 10)
	ctx := context.Background()

	store.AddItem(ctx, "a", json.RawMessage(`{}`), "")
	if err := store.ClearHistory(ctx); err != nil {
		t.Fatalf("ClearHistory error: %v", err)
	}

	if got := len(store.Items(ctx)); got != 0 {
		t.Errorf("got %d items after clear, want 0", got)
	}
	if _, ok := kv.m["history:pdf-merge"]; ok {
		t.Error("the scope blob must be deleted, not emptied")
	}
}

func TestCorruptBlobReadsAsEmpty(t *testing.T) {
	kv := newMemKV()
	kv.m["history:pdf-merge"] = []byte("{not json")

	store := NewStore(kv, "pdf-merge", 10)
	ctx := context.Background()

	if got := len(store.Items(ctx)); got != 0 {
		t.Fatalf("got %d items from a corrupt blob, want 0", got)
	}

	// Writing through the corrupt state must recover it.
	if _, err := store.AddItem(ctx, "fresh", json.RawMessage(`{}`), ""); err != nil {
		t.Fatalf("AddItem error: %v", err)
	}
	if got := len(store.Items(ctx)); got != 1 {
		t.Errorf("got %d items, want 1", got)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()

	a := NewStore(kv, "pdf-merge", 10)
	b := NewStore(kv, "transcode", 10)

	a.AddItem(ctx, "only in a", json.RawMessage(`{}`), "")

	if got := len(b.Items(ctx)); got != 0 {
		t.Errorf("scope leak: got %d items in the other scope", got)
	}
}
