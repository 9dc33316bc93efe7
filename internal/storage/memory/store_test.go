package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/emberlyhq/emberly-backend/internal/models"
)

func TestDirectConversationDeduplicated(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	first, err := s.CreateConversation(ctx, models.ConversationDirect, "alice", []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Same pair in either order resolves to the existing conversation.
	again, err := s.CreateConversation(ctx, models.ConversationDirect, "bob", []string{"bob", "alice"})
	if err != nil {
		t.Fatalf("repeat create: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("pair mapped to two conversations: %q and %q", first.ID, again.ID)
	}

	// Group conversations are never deduplicated.
	g1, _ := s.CreateConversation(ctx, models.ConversationGroup, "alice", []string{"alice", "bob", "carol"})
	g2, _ := s.CreateConversation(ctx, models.ConversationGroup, "alice", []string{"alice", "bob", "carol"})
	if g1.ID == g2.ID {
		t.Error("group conversations were deduplicated")
	}
}

func TestCreateConversationValidation(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if _, err := s.CreateConversation(ctx, models.ConversationDirect, "alice", []string{"alice"}); err == nil {
		t.Error("one-party direct conversation accepted")
	}
	if _, err := s.CreateConversation(ctx, models.ConversationDirect, "alice", []string{"alice", "bob", "carol"}); err == nil {
		t.Error("three-party direct conversation accepted")
	}
	if _, err := s.CreateConversation(ctx, models.ConversationGroup, "alice", []string{"alice"}); err == nil {
		t.Error("single-member group accepted")
	}
}

func TestListConversationsOrderedByActivity(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	older, _ := s.CreateConversation(ctx, models.ConversationDirect, "alice", []string{"alice", "bob"})
	newer, _ := s.CreateConversation(ctx, models.ConversationDirect, "alice", []string{"alice", "carol"})

	convs, err := s.ListConversations(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 || convs[0].ID != newer.ID {
		t.Fatalf("initial order wrong: %v", convs)
	}

	// New activity moves the older conversation to the front.
	if err := s.TouchConversation(ctx, older.ID, "bob"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	convs, _ = s.ListConversations(ctx, "alice")
	if convs[0].ID != older.ID {
		t.Error("touched conversation not promoted")
	}
}

func TestFirstResponseRecordedOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, models.ConversationDirect, "alice", []string{"alice", "bob"})

	// The creator's own activity is not a response.
	_ = s.TouchConversation(ctx, conv.ID, "alice")
	got, _ := s.GetConversation(ctx, conv.ID)
	if got.FirstResponseAt != nil {
		t.Fatal("creator activity counted as first response")
	}

	_ = s.TouchConversation(ctx, conv.ID, "bob")
	got, _ = s.GetConversation(ctx, conv.ID)
	if got.FirstResponseAt == nil {
		t.Fatal("first response not recorded")
	}
	first := *got.FirstResponseAt

	// Later responses never move the stamp.
	_ = s.TouchConversation(ctx, conv.ID, "bob")
	got, _ = s.GetConversation(ctx, conv.ID)
	if !got.FirstResponseAt.Equal(first) {
		t.Error("first response timestamp moved")
	}
}

func TestCreateMessageIdempotency(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, models.ConversationDirect, "alice", []string{"alice", "bob"})

	first, err := s.CreateMessage(ctx, conv.ID, "alice", "hello", models.MessageText, "k1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	dup, err := s.CreateMessage(ctx, conv.ID, "alice", "retry", models.MessageText, "k1", nil)
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("duplicate err = %v, want ErrConflict", err)
	}
	if dup.ID != first.ID || dup.Content != "hello" {
		t.Errorf("duplicate resolved to %+v, want the original row", dup)
	}

	// The same key in a different conversation is a different message.
	other, _ := s.CreateConversation(ctx, models.ConversationDirect, "alice", []string{"alice", "carol"})
	if _, err := s.CreateMessage(ctx, other.ID, "alice", "hello", models.MessageText, "k1", nil); err != nil {
		t.Errorf("key reuse across conversations err = %v", err)
	}
}

func TestListMessagesPagination(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	conv, _ := s.CreateConversation(ctx, models.ConversationDirect, "alice", []string{"alice", "bob"})

	var all []*models.Message
	for i := 0; i < 5; i++ {
		msg, err := s.CreateMessage(ctx, conv.ID, "alice", fmt.Sprintf("m%d", i), models.MessageText, fmt.Sprintf("k%d", i), nil)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		all = append(all, msg)
	}

	page, err := s.ListMessages(ctx, conv.ID, 0, 2, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Content != "m4" || page[1].Content != "m3" {
		t.Fatalf("first page = %v", page)
	}

	// The cursor is exclusive: paging before m3's seq yields m2 and m1.
	page, err = s.ListMessages(ctx, conv.ID, all[3].Seq, 2, "")
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(page) != 2 || page[0].Content != "m2" || page[1].Content != "m1" {
		t.Fatalf("second page = %v", page)
	}
}

func TestPaginationReachesMessagesSharingATimestamp(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	// A burst landing on one instant: the seq cursor must still walk every
	// row, where a timestamp cursor would skip the boundary's siblings.
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return frozen }
	conv, _ := s.CreateConversation(ctx, models.ConversationDirect, "alice", []string{"alice", "bob"})

	for i := 0; i < 3; i++ {
		if _, err := s.CreateMessage(ctx, conv.ID, "alice", fmt.Sprintf("m%d", i), models.MessageText, fmt.Sprintf("k%d", i), nil); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	var got []string
	cursor := int64(0)
	for {
		page, err := s.ListMessages(ctx, conv.ID, cursor, 1, "")
		if err != nil {
			t.Fatalf("list at cursor %d: %v", cursor, err)
		}
		if len(page) == 0 {
			break
		}
		got = append(got, page[0].Content)
		cursor = page[0].Seq
	}
	if len(got) != 3 {
		t.Fatalf("pagination reached %v, want all three messages", got)
	}
	if got[0] != "m2" || got[1] != "m1" || got[2] != "m0" {
		t.Errorf("pagination order = %v", got)
	}
}

func TestListMessagesTypeFilter(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, models.ConversationDirect, "alice", []string{"alice", "bob"})

	_, _ = s.CreateMessage(ctx, conv.ID, "alice", "hi", models.MessageText, "k1", nil)
	_, _ = s.CreateMessage(ctx, conv.ID, "alice", "note", models.MessageVoice, "k2", nil)
	_, _ = s.CreateMessage(ctx, conv.ID, "bob", "pic", models.MessageImage, "k3", nil)

	msgs, err := s.ListMessages(ctx, conv.ID, 0, 10, models.MessageVoice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != models.MessageVoice {
		t.Fatalf("filtered = %v", msgs)
	}
}

func TestDeliveryTransitions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, models.ConversationGroup, "alice", []string{"alice", "bob", "carol"})
	msg, _ := s.CreateMessage(ctx, conv.ID, "alice", "hi", models.MessageText, "k1", nil)

	// Every recipient starts at sent; the sender has no record.
	for _, userID := range []string{"bob", "carol"} {
		rec, err := s.GetDeliveryRecord(ctx, msg.ID, userID)
		if err != nil || rec.Status != models.StatusSent {
			t.Fatalf("%s initial record = %+v err = %v", userID, rec, err)
		}
	}
	if _, err := s.GetDeliveryRecord(ctx, msg.ID, "alice"); !errors.Is(err, models.ErrNotFound) {
		t.Fatal("sender has a delivery record")
	}

	rec, err := s.UpsertDeliveryRecord(ctx, msg.ID, "bob", models.StatusRead)
	if err != nil {
		t.Fatalf("read upsert: %v", err)
	}
	if rec.Status != models.StatusRead || rec.DeliveredAt == nil || rec.ReadAt == nil {
		t.Fatalf("read record = %+v", rec)
	}

	// Regression is refused and reports the surviving state.
	rec, err = s.UpsertDeliveryRecord(ctx, msg.ID, "bob", models.StatusDelivered)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("regression err = %v, want ErrInvalidTransition", err)
	}
	if rec.Status != models.StatusRead {
		t.Errorf("record regressed to %q", rec.Status)
	}

	// Re-acking the current status is a quiet no-op.
	if _, err := s.UpsertDeliveryRecord(ctx, msg.ID, "bob", models.StatusRead); err != nil {
		t.Errorf("repeat read err = %v", err)
	}
}

func TestUnreadCount(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, models.ConversationDirect, "alice", []string{"alice", "bob"})

	m1, _ := s.CreateMessage(ctx, conv.ID, "alice", "one", models.MessageText, "k1", nil)
	_, _ = s.CreateMessage(ctx, conv.ID, "alice", "two", models.MessageText, "k2", nil)

	count, _ := s.UnreadCount(ctx, "bob")
	if count != 2 {
		t.Fatalf("unread = %d, want 2", count)
	}

	// Delivered is still unread.
	_, _ = s.UpsertDeliveryRecord(ctx, m1.ID, "bob", models.StatusDelivered)
	count, _ = s.UnreadCount(ctx, "bob")
	if count != 2 {
		t.Fatalf("unread after delivered = %d, want 2", count)
	}

	_, _ = s.UpsertDeliveryRecord(ctx, m1.ID, "bob", models.StatusRead)
	count, _ = s.UnreadCount(ctx, "bob")
	if count != 1 {
		t.Fatalf("unread after read = %d, want 1", count)
	}
}

func TestDeleteMessageTombstone(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, models.ConversationDirect, "alice", []string{"alice", "bob"})
	msg, _ := s.CreateMessage(ctx, conv.ID, "alice", "secret", models.MessageText, "k1", nil)

	deleted, err := s.DeleteMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted.Deleted || deleted.Content != models.Tombstone {
		t.Fatalf("deleted = %+v", deleted)
	}

	// The row still lists; edits are refused.
	msgs, _ := s.ListMessages(ctx, conv.ID, 0, 10, "")
	if len(msgs) != 1 {
		t.Fatalf("tombstoned row vanished from listing")
	}
	if _, err := s.EditMessage(ctx, msg.ID, "resurrect"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("edit of deleted err = %v, want ErrNotFound", err)
	}
}
