// Package catalog 封装商品目录与评论的检索：Qdrant 混合检索、按 parent_asin 精确查询商品，
// 以及查询向量化。
package catalog

import (
	"context"
	"errors"
	"strings"
)

const (
	DefaultItemsCollection   = "Amazon-items-collection-02-items"
	DefaultReviewsCollection = "Amazon-items-collection-02-reviews"
	DefaultEmbeddingModel    = "text-embedding-3-small"

	DefaultItemsTopK   = 5
	DefaultReviewsTopK = 20

	// prefetchLimit 为混合检索中每一路召回的候选数
	prefetchLimit = 20
)

// ErrProductNotFound 目录中没有该商品。
var ErrProductNotFound = errors.New("catalog: product not found")

// Hit 为一条检索结果，ID 为商品的 parent_asin。
type Hit struct {
	ID    string
	Text  string
	Score float32
}

// Product 为目录中商品的展示信息。
type Product struct {
	ID          string
	Description string
	ImageURL    string
	// Price 目录缺失价格时为空
	Price *float64
}

// Retriever 检索商品与评论。
type Retriever interface {
	// SearchItems 返回与 query 最相关的 topK 个商品。
	SearchItems(ctx context.Context, query string, topK int) ([]Hit, error)
	// SearchReviews 在 itemIDs 范围内返回与 query 最相关的 topK 条评论。
	SearchReviews(ctx context.Context, query string, itemIDs []string, topK int) ([]Hit, error)
}

// Lookup 按 parent_asin 精确查询商品，不存在时返回 ErrProductNotFound。
type Lookup interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
}

// Embedder 将文本转换为向量。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FormatContext 将检索结果格式化为每行 "- {id}: {text}" 的文本。
func FormatContext(hits []Hit) string {
	var b strings.Builder
	for _, h := range hits {
		b.WriteString("- ")
		b.WriteString(h.ID)
		b.WriteString(": ")
		b.WriteString(h.Text)
		b.WriteString("\n")
	}
	return b.String()
}
