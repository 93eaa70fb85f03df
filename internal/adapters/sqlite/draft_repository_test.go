package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

func TestDraftRepositoryUpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	if _, err := NewEventStore(db).CreateEvent(ctx, testEvent("e1", "tx-1", "B1234567"), createBatch("e1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	repo := NewDraftRepository(db)

	first := domain.Draft{
		EventID: "e1", CreatedBy: "u1", ActionType: domain.ActionDeclare, TransactionID: "d1",
		Declaration: domain.Fields{"child.name": domain.String("Ad")},
		CreatedAt:   t0, UpdatedAt: t0,
	}
	if _, err := repo.Upsert(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	second := first
	second.TransactionID = "d2"
	second.Declaration = domain.Fields{"child.name": domain.String("Ada")}
	second.CreatedAt = t0.Add(time.Hour)
	second.UpdatedAt = t0.Add(time.Hour)
	got, err := repo.Upsert(ctx, second)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !got.CreatedAt.Equal(t0) {
		t.Fatalf("created_at must survive an update, got %s", got.CreatedAt)
	}
	if !got.UpdatedAt.Equal(t0.Add(time.Hour)) || got.TransactionID != "d2" {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.Declaration["child.name"].String() != "Ada" {
		t.Fatalf("declaration not replaced: %+v", got.Declaration)
	}

	deleted, err := repo.Delete(ctx, first.Key())
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	deleted, err = repo.Delete(ctx, first.Key())
	if err != nil || deleted {
		t.Fatalf("second delete must report nothing removed: %v %v", deleted, err)
	}
	if _, err := repo.Get(ctx, first.Key()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDraftRepositoryListByUserOldestFirst(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	if _, err := NewEventStore(db).CreateEvent(ctx, testEvent("e1", "tx-1", "B1234567"), createBatch("e1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	repo := NewDraftRepository(db)

	types := []domain.ActionType{domain.ActionValidate, domain.ActionDeclare, domain.ActionNotify}
	for i := range types {
		ts := t0.Add(time.Duration(len(types)-i) * time.Minute)
		d := domain.Draft{EventID: "e1", CreatedBy: "u1", ActionType: types[i], TransactionID: "d", CreatedAt: ts, UpdatedAt: ts}
		if _, err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	other := domain.Draft{EventID: "e1", CreatedBy: "u2", ActionType: domain.ActionDeclare, TransactionID: "d", CreatedAt: t0, UpdatedAt: t0}
	if _, err := repo.Upsert(ctx, other); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	list, err := repo.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 drafts, got %d", len(list))
	}
	if list[0].ActionType != domain.ActionNotify || list[2].ActionType != domain.ActionValidate {
		t.Fatalf("drafts not ordered by creation: %+v", list)
	}
}
