package catalogserver

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/ShopAgent/internal/catalog"
	"github.com/wwwzy/ShopAgent/internal/toolserver"
)

func testCatalog() *catalog.MemoryCatalog {
	return catalog.NewMemoryCatalog(catalog.Fixture{
		Items: []catalog.Document{
			{ID: "B1", Text: "Wireless earphones"},
			{ID: "B2", Text: "Laptop bag"},
		},
		Reviews: []catalog.Document{
			{ID: "B1", Text: "Great earphones, good battery"},
			{ID: "B2", Text: "The bag has good stitching"},
		},
	})
}

func serve(t *testing.T, kind string) string {
	t.Helper()
	s, err := New(kind, testCatalog(), nil)
	require.NoError(t, err)
	srv := httptest.NewServer(Handler(s))
	t.Cleanup(srv.Close)
	return srv.URL + "/mcp"
}

func TestItemsServer(t *testing.T) {
	url := serve(t, KindItems)
	c := toolserver.New()

	descs, err := c.Discover(context.Background(), url)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, ToolItemContext, descs[0].Name)
	assert.Equal(t, []string{"query"}, descs[0].Required)

	out, err := c.CallTool(context.Background(), url, ToolItemContext, map[string]any{"query": "earphones", "top_k": 5})
	require.NoError(t, err)
	assert.Equal(t, "- B1: Wireless earphones\n", out)

	_, err = c.CallTool(context.Background(), url, ToolItemContext, map[string]any{"query": " "})
	assert.Error(t, err)
}

func TestReviewsServer(t *testing.T) {
	url := serve(t, KindReviews)
	c := toolserver.New()

	out, err := c.CallTool(context.Background(), url, ToolReviewContext, map[string]any{
		"query":     "good",
		"item_list": []string{"B2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "- B2: The bag has good stitching\n", out)
}

func TestUnknownKind(t *testing.T) {
	_, err := New("orders", testCatalog(), nil)
	assert.Error(t, err)

	_, err = New(KindItems, nil, nil)
	assert.Error(t, err)
}
