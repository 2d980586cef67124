package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "shopagent.db")
	s, err := Open(ctx, Config{
		Driver:    DriverSQLite,
		Path:      dbPath,
		EnableWAL: true,
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptrFloat(v float64) *float64 { return &v }
func ptrString(v string) *string  { return &v }

func TestAddCartItemSumsQuantity(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	first := CartItem{UserID: "u1", CartID: "c1", ProductID: "B0X", Quantity: 2, Price: ptrFloat(9.99), ProductImageURL: ptrString("https://img/x.jpg")}
	if err := s.AddCartItem(ctx, &first); err != nil {
		t.Fatalf("add first: %v", err)
	}
	second := CartItem{UserID: "u1", CartID: "c1", ProductID: "B0X", Quantity: 3, Price: ptrFloat(9.99)}
	if err := s.AddCartItem(ctx, &second); err != nil {
		t.Fatalf("add second: %v", err)
	}

	got, err := s.ListCartItems(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("list cart: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if got[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", got[0].Quantity)
	}
	if got[0].Currency != "USD" {
		t.Fatalf("expected USD, got %s", got[0].Currency)
	}
	if got[0].ProductImageURL == nil || *got[0].ProductImageURL != "https://img/x.jpg" {
		t.Fatalf("image url should survive a later add without image: %v", got[0].ProductImageURL)
	}
	total := got[0].TotalPrice()
	if total == nil || *total < 49.94 || *total > 49.96 {
		t.Fatalf("unexpected total price: %v", total)
	}
}

func TestAddCartItemConcurrentAddsDoNotLoseQuantity(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	const writers = 30
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.AddCartItem(ctx, &CartItem{UserID: "u", CartID: "c", ProductID: "B0RACE", Quantity: 1, Price: ptrFloat(1.5)})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent add: %v", err)
		}
	}

	got, err := s.ListCartItems(ctx, "u", "c")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected a single row, got %d", len(got))
	}
	if got[0].Quantity != writers {
		t.Fatalf("expected quantity %d, got %d", writers, got[0].Quantity)
	}
}

func TestAddCartItemTotalPrice(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	if err := s.AddCartItem(ctx, &CartItem{UserID: "u", CartID: "c", ProductID: "X", Quantity: 2, Price: ptrFloat(9.99)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := s.ListCartItems(ctx, "u", "c")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Quantity != 2 {
		t.Fatalf("unexpected rows: %+v", got)
	}
	total := got[0].TotalPrice()
	if total == nil || *total < 19.979 || *total > 19.981 {
		t.Fatalf("expected total 19.98, got %v", total)
	}
}

func TestListCartItemsOrderAndIsolation(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	items := []CartItem{
		{UserID: "u1", CartID: "c1", ProductID: "A", Quantity: 1, AddedAt: base},
		{UserID: "u1", CartID: "c1", ProductID: "B", Quantity: 1, AddedAt: base.Add(time.Minute)},
		{UserID: "u2", CartID: "c2", ProductID: "A", Quantity: 4, AddedAt: base.Add(2 * time.Minute)},
	}
	for i := range items {
		if err := s.AddCartItem(ctx, &items[i]); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	first, err := s.ListCartItems(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(first))
	}
	if first[0].ProductID != "B" || first[1].ProductID != "A" {
		t.Fatalf("expected most recent first, got %s then %s", first[0].ProductID, first[1].ProductID)
	}
	if first[0].TotalPrice() != nil {
		t.Fatalf("total price should be nil when price unknown")
	}

	second, err := s.ListCartItems(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("list again: %v", err)
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Quantity != second[i].Quantity {
			t.Fatalf("listing is not stable at %d", i)
		}
	}
}

func TestRemoveCartItem(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	removed, err := s.RemoveCartItem(ctx, "u", "c", "missing")
	if err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	if removed {
		t.Fatalf("expected not removed for missing key")
	}

	if err := s.AddCartItem(ctx, &CartItem{UserID: "u", CartID: "c", ProductID: "P", Quantity: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	removed, err = s.RemoveCartItem(ctx, "u", "c", "P")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Fatalf("expected removed")
	}
	n, err := s.CountCartItems(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty cart, got %d", n)
	}
}

func TestAddCartItemRejectsInvalidQuantity(t *testing.T) {
	s := openTestStorage(t)
	if err := s.AddCartItem(context.Background(), &CartItem{UserID: "u", CartID: "c", ProductID: "P", Quantity: 0}); err == nil {
		t.Fatalf("expected error for zero quantity")
	}
}

func TestCheckpointSaveLoad(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	data, err := s.LoadCheckpoint(ctx, "thread-1")
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil for missing checkpoint")
	}

	if err := s.SaveCheckpoint(ctx, "thread-1", "product_qa", "running", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, "thread-1", "", "completed", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("save again: %v", err)
	}

	data, err = s.LoadCheckpoint(ctx, "thread-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != `{"v":2}` {
		t.Fatalf("unexpected state: %s", data)
	}
	cp, err := s.GetCheckpoint(ctx, "thread-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cp.Status != "completed" || cp.NextNode != "" {
		t.Fatalf("unexpected checkpoint meta: %+v", cp)
	}
	if _, err := s.GetCheckpoint(ctx, "nope"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteCheckpointsKeepsRunning(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	if err := s.SaveCheckpoint(ctx, "done", "", "completed", []byte(`{}`)); err != nil {
		t.Fatalf("save done: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, "live", "coordinator", "running", []byte(`{}`)); err != nil {
		t.Fatalf("save live: %v", err)
	}

	affected, err := s.DeleteCheckpointsBeforeLimited(ctx, time.Now().Add(time.Minute).UTC(), 10)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 deleted, got %d", affected)
	}
	list, err := s.ListCheckpoints(ctx, CheckpointQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ThreadID != "live" {
		t.Fatalf("unexpected remaining checkpoints: %+v", list)
	}
}

func TestFeedbackInsert(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	score := 1
	if err := s.InsertFeedback(ctx, &Feedback{ThreadID: "t", TraceID: "tr", Score: &score, Text: "great", SourceType: "api"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertFeedback(ctx, &Feedback{ThreadID: "t", Text: "text only"}); err != nil {
		t.Fatalf("insert without score: %v", err)
	}
	bad := 5
	if err := s.InsertFeedback(ctx, &Feedback{ThreadID: "t", Score: &bad}); err == nil {
		t.Fatalf("expected invalid score error")
	}

	got, err := s.ListFeedback(ctx, "t", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 feedback rows, got %d", len(got))
	}
}

func TestAuditInsertQueryUpdate(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	rec := AuditRecord{
		TraceID:   "trace-1",
		Action:    "add_to_shopping_cart",
		Status:    "running",
		StartedAt: time.Now().Add(-1 * time.Second).UTC(),
	}
	if err := s.InsertAuditRecord(ctx, &rec); err != nil {
		t.Fatalf("insert audit: %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("expected audit id to be set")
	}

	got, err := s.QueryAuditRecords(ctx, AuditQuery{TraceID: "trace-1", Limit: 10})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(got))
	}
	if got[0].Status != "running" {
		t.Fatalf("unexpected status: %s", got[0].Status)
	}

	status := "success"
	result := `Added 1 items to the shopping cart.`
	finished := time.Now().UTC()
	if err := s.UpdateAuditRecord(ctx, rec.ID, AuditUpdate{
		Status:     &status,
		ResultJSON: &result,
		FinishedAt: &finished,
	}); err != nil {
		t.Fatalf("update audit: %v", err)
	}

	got2, err := s.QueryAuditRecords(ctx, AuditQuery{TraceID: "trace-1", Limit: 10})
	if err != nil {
		t.Fatalf("query audit after update: %v", err)
	}
	if got2[0].Status != "success" || got2[0].ResultJSON != result {
		t.Fatalf("unexpected updated record: status=%s result=%s", got2[0].Status, got2[0].ResultJSON)
	}

	if err := s.UpdateAuditRecord(ctx, 9999, AuditUpdate{Status: &status}); !IsNotFound(err) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func TestAuditPrune(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		rec := AuditRecord{Action: "get_shopping_cart", Status: "success", CreatedAt: now.Add(time.Duration(i-10) * 24 * time.Hour)}
		if err := s.InsertAuditRecord(ctx, &rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	deleted, err := s.DeleteAuditRecordsKeepLatest(ctx, 3)
	if err != nil {
		t.Fatalf("keep latest: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}

	var total int64
	for {
		aff, err := s.DeleteAuditRecordsBeforeLimited(ctx, now.Add(-7*24*time.Hour), 1)
		if err != nil {
			t.Fatalf("delete limited: %v", err)
		}
		if aff == 0 {
			break
		}
		total += aff
	}
	if total != 1 {
		t.Fatalf("expected 1 old record deleted, got %d", total)
	}

	n, err := s.CountAuditRecords(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 remaining, got %d", n)
	}
}
