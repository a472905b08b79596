package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nuvashop/supportchat/internal/chat"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpsertConversationIdempotent(t *testing.T) {
	db := testDB(t)
	agent := int64(7)
	c := &chat.Conversation{
		ID: 1, Subject: "late order", Status: chat.StatusInProgress,
		CustomerID: 42, AgentID: &agent, AgentName: "Dana",
		CreatedAt: time.UnixMilli(1000), UpdatedAt: time.UnixMilli(2000),
	}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	c.Status = chat.StatusClosed
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("conversations = %d, want 1", len(convs))
	}
	got := convs[0]
	if got.Status != chat.StatusClosed || got.AgentID == nil || *got.AgentID != 7 {
		t.Errorf("conversation = %+v", got)
	}
	if !got.UpdatedAt.Equal(time.UnixMilli(2000)) {
		t.Errorf("updated at = %v", got.UpdatedAt)
	}
}

func TestReplaceConversations(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertConversation(&chat.Conversation{ID: 1, Status: chat.StatusPending, CreatedAt: time.UnixMilli(1), UpdatedAt: time.UnixMilli(1)})

	err := db.ReplaceConversations([]chat.Conversation{
		{ID: 2, Status: chat.StatusPending, CreatedAt: time.UnixMilli(2), UpdatedAt: time.UnixMilli(2)},
		{ID: 3, Status: chat.StatusInProgress, CreatedAt: time.UnixMilli(3), UpdatedAt: time.UnixMilli(3)},
	})
	if err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 || convs[0].ID != 3 {
		t.Errorf("conversations = %+v, want [3, 2]", convs)
	}
}

func TestMessageUpsertByServerID(t *testing.T) {
	db := testDB(t)
	id := int64(9)
	m := &chat.Message{ID: &id, ConversationID: 1, SenderID: 7, Body: "hello", CreatedAt: time.UnixMilli(100)}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	m.Body = "hello (edited)"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello (edited)" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestAcknowledgedRowSupersedesOptimistic(t *testing.T) {
	db := testDB(t)

	// Optimistic write, no server id yet.
	opt := &chat.Message{TempID: "tmp-1", ConversationID: 1, SenderID: 42, Body: "hi", CreatedAt: time.UnixMilli(100)}
	if err := db.UpsertMessage(opt); err != nil {
		t.Fatal(err)
	}

	// Acknowledged write for the same send.
	id := int64(50)
	ack := &chat.Message{ID: &id, TempID: "tmp-1", ConversationID: 1, SenderID: 42, Body: "hi", CreatedAt: time.UnixMilli(101)}
	if err := db.UpsertMessage(ack); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1 (optimistic row superseded)", len(msgs))
	}
	if msgs[0].ID == nil || *msgs[0].ID != 50 {
		t.Errorf("server id = %v, want 50", msgs[0].ID)
	}
}

func TestSaveMessagesBatch(t *testing.T) {
	db := testDB(t)
	ids := []int64{1, 2, 3}
	var batch []chat.Message
	for i := range ids {
		batch = append(batch, chat.Message{
			ID: &ids[i], ConversationID: 1, SenderID: 7,
			Body: "m", CreatedAt: time.UnixMilli(int64(100 + i)),
		})
	}
	if err := db.SaveMessages(batch); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessages(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Errorf("messages = %d, want 3", len(msgs))
	}
}
