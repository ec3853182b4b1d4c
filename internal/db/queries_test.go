package db

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/hpungsan/scoper/internal/brief"
	"github.com/hpungsan/scoper/internal/conversation"
	"github.com/hpungsan/scoper/internal/errors"
)

const testBriefText = `- Objective: Size the market
- Key Questions: How big is it?
- Deliverables: Deck
- Timeline: 2 weeks
- Success Criteria: Decision made`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := Init(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func newTestBrief(id, user string, createdAt int64) *brief.Brief {
	return brief.New(brief.NewInput{
		ID:             id,
		UserID:         user,
		ConversationID: "conv-" + id,
		Text:           testBriefText,
		Scope:          conversation.Scope{Industry: "retail", Stakeholders: "CFO"},
		Turns:          []string{"I need market sizing", "yes"},
		Now:            time.Unix(createdAt, 0),
	})
}

func TestInsertAndGetByID(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	b := newTestBrief("01A", "Alice", 100)
	if err := Insert(ctx, database, b); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := GetByID(ctx, database, "01A", false)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if got.UserRaw != "Alice" || got.UserNorm != "alice" {
		t.Errorf("user = %q/%q", got.UserRaw, got.UserNorm)
	}
	if got.BriefText != testBriefText {
		t.Errorf("BriefText = %q", got.BriefText)
	}
	if got.Title == nil || *got.Title != "Size the market" {
		t.Errorf("Title = %v", got.Title)
	}
	if got.Scope.Industry != "retail" || len(got.Scope.Stakeholders) != 1 {
		t.Errorf("Scope = %+v", got.Scope)
	}
	if len(got.Turns) != 2 || got.Turns[1] != "yes" {
		t.Errorf("Turns = %v", got.Turns)
	}
	if got.MissingSections != nil {
		t.Errorf("MissingSections = %v, want nil", got.MissingSections)
	}
	if got.DeletedAt != nil {
		t.Error("DeletedAt should be nil")
	}
}

func TestGetByID_NotFound(t *testing.T) {
	_, err := GetByID(context.Background(), openTestDB(t), "missing", false)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

func TestInsert_MissingSectionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	b := brief.New(brief.NewInput{ID: "01B", UserID: "u", ConversationID: "c", Text: "Objective: only this", Now: time.Unix(1, 0)})
	if err := Insert(ctx, database, b); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := GetByID(ctx, database, "01B", false)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(got.MissingSections) != 4 {
		t.Errorf("MissingSections = %v, want 4 entries", got.MissingSections)
	}
}

func TestInsert_ConversationUnique(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	first := newTestBrief("01A", "u", 1)
	if err := Insert(ctx, database, first); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	dup := newTestBrief("01B", "u", 2)
	dup.ConversationID = first.ConversationID
	if err := Insert(ctx, database, dup); err != ErrUniqueConstraint {
		t.Fatalf("Insert() error = %v, want ErrUniqueConstraint", err)
	}

	// A soft-deleted brief frees the conversation id
	if err := SoftDelete(ctx, database, "01A"); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}
	if err := Insert(ctx, database, dup); err != nil {
		t.Errorf("Insert() after delete error = %v", err)
	}
}

func TestGetByConversation(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	if err := Insert(ctx, database, newTestBrief("01A", "u", 1)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := GetByConversation(ctx, database, "conv-01A")
	if err != nil {
		t.Fatalf("GetByConversation() error = %v", err)
	}
	if got.ID != "01A" {
		t.Errorf("ID = %q, want 01A", got.ID)
	}

	if _, err := GetByConversation(ctx, database, "conv-none"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

func TestSoftDelete(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	if err := Insert(ctx, database, newTestBrief("01A", "u", 1)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := SoftDelete(ctx, database, "01A"); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}

	if _, err := GetByID(ctx, database, "01A", false); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("active lookup error = %v, want NOT_FOUND", err)
	}

	got, err := GetByID(ctx, database, "01A", true)
	if err != nil {
		t.Fatalf("GetByID(includeDeleted) error = %v", err)
	}
	if got.DeletedAt == nil {
		t.Error("DeletedAt should be set")
	}

	// Deleting twice is NOT_FOUND
	if err := SoftDelete(ctx, database, "01A"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second SoftDelete() error = %v, want NOT_FOUND", err)
	}
}

func TestList_OrderAndPagination(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	for i := 1; i <= 5; i++ {
		b := newTestBrief(fmt.Sprintf("01%d", i), "alice", int64(i*10))
		if err := Insert(ctx, database, b); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	items, total, err := List(ctx, database, ListFilters{}, 2, 0, false)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(items) != 2 || items[0].ID != "015" || items[1].ID != "014" {
		t.Errorf("page 1 = %+v", items)
	}

	items, _, err = List(ctx, database, ListFilters{}, 2, 4, false)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != "011" {
		t.Errorf("last page = %+v", items)
	}
}

func TestList_StableOrderingOnTies(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	for _, id := range []string{"01A", "01C", "01B"} {
		if err := Insert(ctx, database, newTestBrief(id, "u", 50)); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	items, _, err := List(ctx, database, ListFilters{}, 10, 0, false)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"01C", "01B", "01A"}
	for i, id := range want {
		if items[i].ID != id {
			t.Errorf("items[%d].ID = %q, want %q", i, items[i].ID, id)
		}
	}
}

func TestList_UserFilterAndDeleted(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	for _, b := range []*brief.Brief{
		newTestBrief("01A", "Alice", 1),
		newTestBrief("01B", "bob", 2),
		newTestBrief("01C", "alice", 3),
	} {
		if err := Insert(ctx, database, b); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	if err := SoftDelete(ctx, database, "01C"); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}

	alice := "alice"
	items, total, err := List(ctx, database, ListFilters{UserNorm: &alice}, 10, 0, false)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 || items[0].ID != "01A" {
		t.Errorf("active alice briefs = %+v (total %d)", items, total)
	}

	_, total, err = List(ctx, database, ListFilters{UserNorm: &alice}, 10, 0, true)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 2 {
		t.Errorf("total with deleted = %d, want 2", total)
	}
}

func TestList_Empty(t *testing.T) {
	items, total, err := List(context.Background(), openTestDB(t), ListFilters{}, 10, 0, false)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 0 || total != 0 {
		t.Errorf("List() = %v, %d; want empty", items, total)
	}
}

func TestPurgeDeleted(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	for _, b := range []*brief.Brief{
		newTestBrief("01A", "alice", 1),
		newTestBrief("01B", "bob", 2),
		newTestBrief("01C", "alice", 3),
	} {
		if err := Insert(ctx, database, b); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	for _, id := range []string{"01A", "01B"} {
		if err := SoftDelete(ctx, database, id); err != nil {
			t.Fatalf("SoftDelete() error = %v", err)
		}
	}

	// Just deleted, so an age filter keeps them
	days := 7
	n, err := PurgeDeleted(ctx, database, nil, &days)
	if err != nil {
		t.Fatalf("PurgeDeleted() error = %v", err)
	}
	if n != 0 {
		t.Errorf("purged = %d, want 0 with age filter", n)
	}

	alice := "alice"
	n, err = PurgeDeleted(ctx, database, &alice, nil)
	if err != nil {
		t.Fatalf("PurgeDeleted() error = %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}

	n, err = PurgeDeleted(ctx, database, nil, nil)
	if err != nil {
		t.Fatalf("PurgeDeleted() error = %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}

	// The active brief is never purged
	if _, err := GetByID(ctx, database, "01C", false); err != nil {
		t.Errorf("active brief lost: %v", err)
	}
}

func TestStreamForExport(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	for _, b := range []*brief.Brief{
		newTestBrief("01B", "alice", 2),
		newTestBrief("01A", "alice", 1),
		newTestBrief("01C", "bob", 3),
	} {
		if err := Insert(ctx, database, b); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	alice := "alice"
	rows, err := StreamForExport(ctx, database, &alice, false)
	if err != nil {
		t.Fatalf("StreamForExport() error = %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		b, err := ScanBriefFromRows(rows)
		if err != nil {
			t.Fatalf("ScanBriefFromRows() error = %v", err)
		}
		ids = append(ids, b.ID)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows.Err() = %v", err)
	}

	if len(ids) != 2 || ids[0] != "01A" || ids[1] != "01B" {
		t.Errorf("ids = %v, want [01A 01B]", ids)
	}
}
