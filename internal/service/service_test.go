package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/ShopAgent/internal/agent"
	"github.com/wwwzy/ShopAgent/internal/cart"
	"github.com/wwwzy/ShopAgent/internal/catalog"
	"github.com/wwwzy/ShopAgent/internal/storage"
)

type stubRunner struct {
	res  *agent.Result
	err  error
	reqs []agent.Request
}

func (r *stubRunner) Run(ctx context.Context, req agent.Request) (*agent.Result, error) {
	r.reqs = append(r.reqs, req)
	return r.res, r.err
}

func price(v float64) *float64 { return &v }

func openStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{
		Driver: storage.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "service.db"),
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testCatalog() *catalog.MemoryCatalog {
	return catalog.NewMemoryCatalog(catalog.Fixture{Items: []catalog.Document{
		{ID: "B1", Text: "Earphones", ImageURL: "https://img/b1.jpg", Price: price(19.99)},
		{ID: "B2", Text: "Cable"},
	}})
}

func TestAskEnrichesAnswer(t *testing.T) {
	ctx := context.Background()
	db := openStorage(t)
	lookup := testCatalog()
	c := cart.New(db, lookup)

	_, err := c.Add(ctx, "thread-1", "thread-1", []cart.LineItem{{ProductID: "B1", Quantity: 2}})
	require.NoError(t, err)

	runner := &stubRunner{res: &agent.Result{
		Answer:      "These earphones fit.",
		TraceID:     "trace-1",
		Termination: agent.TerminationFinalAnswer,
		RetrievedContext: []agent.RetrievedContext{
			{ID: "B1", Description: "Noise cancelling earphones"},
			{ID: "B2", Description: "Cable without image"},
			{ID: "missing", Description: "Not in catalog"},
		},
	}}
	svc, err := New(Config{Runner: runner, Cart: c, Catalog: lookup, Feedback: db})
	require.NoError(t, err)

	ans, err := svc.Ask(ctx, "earphones?", " thread-1 ")
	require.NoError(t, err)
	assert.Equal(t, "These earphones fit.", ans.Answer)
	assert.Equal(t, "trace-1", ans.TraceID)
	assert.Equal(t, agent.TerminationFinalAnswer, ans.Termination)
	require.Len(t, ans.UsedImages, 1)
	assert.Equal(t, ImageRef{ImageURL: "https://img/b1.jpg", Price: price(19.99), Description: "Noise cancelling earphones"}, ans.UsedImages[0])

	require.Len(t, ans.ShoppingCart, 1)
	assert.Equal(t, 2, ans.ShoppingCart[0].Quantity)
	assert.InDelta(t, 39.98, *ans.ShoppingCart[0].TotalPrice, 1e-9)

	require.Len(t, runner.reqs, 1)
	assert.Equal(t, "earphones?", runner.reqs[0].Query)
}

func TestAskEmptyCart(t *testing.T) {
	db := openStorage(t)
	svc, err := New(Config{Runner: &stubRunner{res: &agent.Result{Answer: "hi"}}, Cart: cart.New(db, nil)})
	require.NoError(t, err)

	ans, err := svc.Ask(context.Background(), "hi", "t")
	require.NoError(t, err)
	assert.NotNil(t, ans.ShoppingCart)
	assert.Empty(t, ans.ShoppingCart)
	assert.Empty(t, ans.UsedImages)
}

func TestAskPropagatesRunError(t *testing.T) {
	boom := errors.New("boom")
	svc, err := New(Config{Runner: &stubRunner{err: boom}})
	require.NoError(t, err)

	_, err = svc.Ask(context.Background(), "hi", "t")
	assert.ErrorIs(t, err, boom)
}

func TestSubmitFeedback(t *testing.T) {
	ctx := context.Background()
	db := openStorage(t)
	svc, err := New(Config{Runner: &stubRunner{}, Feedback: db})
	require.NoError(t, err)

	one := 1
	require.NoError(t, svc.SubmitFeedback(ctx, Feedback{Score: &one, Text: "nice", TraceID: "trace-1", ThreadID: "t1", SourceType: "api"}))
	require.NoError(t, svc.SubmitFeedback(ctx, Feedback{Text: "only text", ThreadID: "t1"}))

	rows, err := db.ListFeedback(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	bad := 3
	err = svc.SubmitFeedback(ctx, Feedback{Score: &bad, ThreadID: "t1"})
	assert.ErrorIs(t, err, ErrInvalidFeedback)

	err = svc.SubmitFeedback(ctx, Feedback{Text: "orphan"})
	assert.ErrorIs(t, err, ErrInvalidFeedback)
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
