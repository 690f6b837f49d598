package convstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lorekeep/lorekeep/pkg/models"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv := &models.Conversation{WorldID: "w1", UserID: "u1", Mode: models.ModeAsk}
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("generated id not reflected back to caller")
	}
	if conv.CreatedAt.IsZero() {
		t.Fatal("created timestamp not set")
	}

	got, err := store.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.WorldID != "w1" || got.UserID != "u1" || got.Mode != models.ModeAsk {
		t.Fatalf("round trip = %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv := &models.Conversation{UserID: "u1", Mode: models.ModeAsk}
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	created := conv.CreatedAt

	conv.Mode = models.ModeAuto
	conv.Title = "renamed"
	if err := store.Update(ctx, conv); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := store.Get(ctx, conv.ID)
	if got.Mode != models.ModeAuto || got.Title != "renamed" {
		t.Fatalf("update not applied: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatal("update changed CreatedAt")
	}
	if !got.UpdatedAt.After(created) && !got.UpdatedAt.Equal(created) {
		t.Fatal("UpdatedAt went backwards")
	}

	if err := store.Update(ctx, &models.Conversation{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update missing = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreMessages(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv := &models.Conversation{UserID: "u1"}
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}

	user := &models.Message{Role: models.RoleUser, Content: "hello"}
	if err := store.AppendMessage(ctx, conv.ID, user); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if user.ID == "" {
		t.Fatal("generated message id not reflected back")
	}

	assistant := &models.Message{Role: models.RoleAssistant, IsStreaming: true}
	if err := store.AppendMessage(ctx, conv.ID, assistant); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	assistant.Content = "hi there"
	assistant.IsStreaming = false
	assistant.Pending = &models.PendingAction{ID: assistant.ID, Tool: "create_character"}
	if err := store.UpdateMessage(ctx, conv.ID, assistant); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}

	got, _ := store.Get(ctx, conv.ID)
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
	stored := got.Messages[1]
	if stored.Content != "hi there" || stored.IsStreaming {
		t.Fatalf("updated message = %+v", stored)
	}
	if stored.Pending == nil || stored.Pending.Tool != "create_character" {
		t.Fatalf("pending action not persisted: %+v", stored.Pending)
	}

	// Mutating the caller's message must not leak into the store.
	assistant.Content = "mutated after store"
	again, _ := store.Get(ctx, conv.ID)
	if again.Messages[1].Content != "hi there" {
		t.Fatal("store shared memory with caller")
	}

	if err := store.UpdateMessage(ctx, conv.ID, &models.Message{ID: "missing"}); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("UpdateMessage missing = %v, want ErrMessageNotFound", err)
	}
	if err := store.AppendMessage(ctx, "missing", user); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AppendMessage to missing conversation = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreHistoryLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv := &models.Conversation{UserID: "u1"}
	store.Create(ctx, conv)
	for i := 0; i < 5; i++ {
		store.AppendMessage(ctx, conv.ID, &models.Message{Role: models.RoleUser, Content: string(rune('a' + i))})
	}

	history, err := store.History(ctx, conv.ID, 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history = %d messages, want 3", len(history))
	}
	// The newest messages survive the cut.
	if history[0].Content != "c" || history[2].Content != "e" {
		t.Fatalf("history window = %q..%q", history[0].Content, history[2].Content)
	}

	all, _ := store.History(ctx, conv.ID, 0)
	if len(all) != 5 {
		t.Fatalf("unlimited history = %d messages, want 5", len(all))
	}
}

func TestMemoryStoreListFiltersAndPaginates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seed := []*models.Conversation{
		{WorldID: "w1", UserID: "alice", Mode: models.ModeAsk},
		{WorldID: "w1", UserID: "bob", Mode: models.ModeAuto},
		{WorldID: "w2", UserID: "alice", Mode: models.ModeAsk},
	}
	for _, conv := range seed {
		if err := store.Create(ctx, conv); err != nil {
			t.Fatalf("Create: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	byWorld, _ := store.List(ctx, "w1", ListOptions{})
	if len(byWorld) != 2 {
		t.Fatalf("world filter = %d, want 2", len(byWorld))
	}
	for _, conv := range byWorld {
		if len(conv.Messages) != 0 {
			t.Fatal("List returned message bodies")
		}
	}

	byUser, _ := store.List(ctx, "", ListOptions{UserID: "alice"})
	if len(byUser) != 2 {
		t.Fatalf("user filter = %d, want 2", len(byUser))
	}

	byMode, _ := store.List(ctx, "", ListOptions{Mode: models.ModeAuto})
	if len(byMode) != 1 || byMode[0].UserID != "bob" {
		t.Fatalf("mode filter = %+v", byMode)
	}

	page, _ := store.List(ctx, "", ListOptions{Limit: 2, Offset: 1})
	if len(page) != 2 {
		t.Fatalf("page = %d, want 2", len(page))
	}
	past, _ := store.List(ctx, "", ListOptions{Offset: 10})
	if len(past) != 0 {
		t.Fatalf("offset past end = %d, want 0", len(past))
	}

	// Newest first.
	all, _ := store.List(ctx, "", ListOptions{})
	for i := 1; i < len(all); i++ {
		if all[i].UpdatedAt.After(all[i-1].UpdatedAt) {
			t.Fatal("list not sorted newest first")
		}
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv := &models.Conversation{UserID: "u1"}
	store.Create(ctx, conv)
	store.AppendMessage(ctx, conv.ID, &models.Message{Role: models.RoleUser, Content: "hi"})

	if err := store.Delete(ctx, conv.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after Delete = %v", err)
	}
	if err := store.Delete(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryStorePruneBefore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	stale := &models.Conversation{UserID: "u1", CreatedAt: time.Now().Add(-48 * time.Hour)}
	if err := store.Create(ctx, stale); err != nil {
		t.Fatalf("Create: %v", err)
	}
	fresh := &models.Conversation{UserID: "u1"}
	if err := store.Create(ctx, fresh); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pruned, err := store.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	if _, err := store.Get(ctx, stale.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("stale conversation survived prune")
	}
	if _, err := store.Get(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh conversation pruned: %v", err)
	}
}
