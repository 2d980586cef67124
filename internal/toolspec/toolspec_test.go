package toolspec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewDoc = `Retrieve the top k reviews matching a query for a list of items.

Args:
    query: The query to search for.
    item_list: The list of item IDs to
        restrict the search to.
    top_k: The number of reviews to return.

Returns:
    A string of formatted review snippets.`

func TestParseDocstring(t *testing.T) {
	doc := ParseDocstring(reviewDoc)

	assert.Equal(t, "Retrieve the top k reviews matching a query for a list of items.", doc.Summary)
	assert.Equal(t, "The query to search for.", doc.Params["query"])
	assert.Equal(t, "The list of item IDs to restrict the search to.", doc.Params["item_list"])
	assert.Equal(t, "The number of reviews to return.", doc.Params["top_k"])
	assert.Equal(t, "A string of formatted review snippets.", doc.Returns)
}

func TestParseDocstringDashStyleAndEmpty(t *testing.T) {
	doc := ParseDocstring("Remove an item.\nParameters:\n- product_id: the item\n* cart_id: the cart\nRaises:\n  ValueError: never")
	assert.Equal(t, "Remove an item.", doc.Summary)
	assert.Equal(t, "the item", doc.Params["product_id"])
	assert.Equal(t, "the cart", doc.Params["cart_id"])
	assert.NotContains(t, doc.Params, "ValueError")

	empty := ParseDocstring("   ")
	assert.Empty(t, empty.Summary)
	assert.Empty(t, empty.Params)
}

type lookupArgs struct {
	ProductID string `json:"product_id" jsonschema_description:"schema text"`
	UserID    string `json:"user_id"`
}

func TestFromTool(t *testing.T) {
	doc := "Look up a product.\n\nArgs:\n    product_id: The product ID.\n\nReturns:\n    The product."
	tl, err := utils.InferTool("lookup_product", doc, func(ctx context.Context, in lookupArgs) (string, error) {
		return in.ProductID, nil
	})
	require.NoError(t, err)

	d, err := FromTool(context.Background(), tl)
	require.NoError(t, err)

	assert.Equal(t, "lookup_product", d.Name)
	assert.Equal(t, "Look up a product.", d.Description)
	assert.Equal(t, "object", d.Parameters.Type)
	require.Contains(t, d.Parameters.Properties, "product_id")
	assert.Equal(t, "The product ID.", d.Parameters.Properties["product_id"]["description"])
	assert.Equal(t, "string", d.Parameters.Properties["product_id"]["type"])
	assert.Contains(t, d.Parameters.Properties, "user_id")
	assert.Equal(t, "The product.", d.Returns.Description)
	assert.Empty(t, d.Server)
}

func TestFromRemoteAndRender(t *testing.T) {
	props := map[string]any{
		"query":     map[string]any{"type": "string"},
		"item_list": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	}
	d := FromRemote("http://reviews:8000/mcp", "get_formatted_review_context", reviewDoc, props, []string{"query", "item_list"})

	assert.Equal(t, "http://reviews:8000/mcp", d.Server)
	assert.Equal(t, "The query to search for.", d.Parameters.Properties["query"]["description"])
	assert.Equal(t, []string{"query", "item_list"}, d.Required)

	out, err := Render([]Descriptor{d})
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "get_formatted_review_context", decoded[0]["name"])
	assert.Equal(t, "http://reviews:8000/mcp", decoded[0]["server"])

	empty, err := Render(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)
}
