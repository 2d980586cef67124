package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

const (
	fieldParentASIN = "parent_asin"
	fieldText       = "text"
	fieldImage      = "first_large_image"
	fieldPrice      = "price"

	qdrantGRPCPort = 6334
	qdrantRESTPort = 6333
)

// QdrantConfig Qdrant 连接与集合配置
type QdrantConfig struct {
	// URL 形如 http://qdrant:6333；设置后覆盖 Host/Port/UseTLS。REST 端口会换成 gRPC 端口。
	URL               string `mapstructure:"url"`
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	APIKey            string `mapstructure:"api_key"`
	UseTLS            bool   `mapstructure:"tls"`
	ItemsCollection   string `mapstructure:"items_collection"`
	ReviewsCollection string `mapstructure:"reviews_collection"`
}

// ParseQdrantURL 从 URL 解析 gRPC 连接参数。
func ParseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", 0, false, fmt.Errorf("parse qdrant url: %w", err)
	}
	host = u.Hostname()
	if host == "" {
		return "", 0, false, fmt.Errorf("parse qdrant url: no host in %q", raw)
	}
	useTLS = u.Scheme == "https"
	port = qdrantGRPCPort
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("parse qdrant url port: %w", err)
		}
		if n != qdrantRESTPort {
			port = n
		}
	}
	return host, port, useTLS, nil
}

// QdrantCatalog 基于 Qdrant 实现 Retriever 与 Lookup。
type QdrantCatalog struct {
	client   *qdrant.Client
	embedder Embedder
	items    string
	reviews  string
}

// NewQdrantCatalog creates a Qdrant client from config
func NewQdrantCatalog(cfg QdrantConfig, embedder Embedder) (*QdrantCatalog, error) {
	host, port, useTLS := cfg.Host, cfg.Port, cfg.UseTLS
	if cfg.URL != "" {
		var err error
		host, port, useTLS, err = ParseQdrantURL(cfg.URL)
		if err != nil {
			return nil, err
		}
	}
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = qdrantGRPCPort
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	items, reviews := cfg.ItemsCollection, cfg.ReviewsCollection
	if items == "" {
		items = DefaultItemsCollection
	}
	if reviews == "" {
		reviews = DefaultReviewsCollection
	}
	return &QdrantCatalog{client: client, embedder: embedder, items: items, reviews: reviews}, nil
}

// Close closes the underlying gRPC connection
func (c *QdrantCatalog) Close() error {
	return c.client.Close()
}

func (c *QdrantCatalog) SearchItems(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultItemsTopK
	}
	vec, err := c.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	points, err := c.client.Query(ctx, itemsQuery(c.items, vec, query, topK))
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	return hitsFromPoints(points), nil
}

func (c *QdrantCatalog) SearchReviews(ctx context.Context, query string, itemIDs []string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultReviewsTopK
	}
	if len(itemIDs) == 0 {
		return nil, nil
	}
	vec, err := c.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	points, err := c.client.Query(ctx, reviewsQuery(c.reviews, vec, itemIDs, topK))
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	return hitsFromPoints(points), nil
}

func (c *QdrantCatalog) GetProduct(ctx context.Context, id string) (*Product, error) {
	points, err := c.client.Scroll(ctx, productLookup(c.items, id))
	if err != nil {
		return nil, fmt.Errorf("lookup product %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return productFromPayload(id, points[0].GetPayload()), nil
}

func (c *QdrantCatalog) embed(ctx context.Context, query string) ([]float32, error) {
	if c.embedder == nil {
		return nil, errors.New("catalog: no embedder configured")
	}
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

// itemsQuery 构造商品混合检索：向量召回与 text 全文匹配两路召回，RRF 融合
func itemsQuery(collection string, vec []float32, query string, topK int) *qdrant.QueryPoints {
	return &qdrant.QueryPoints{
		CollectionName: collection,
		Prefetch: []*qdrant.PrefetchQuery{
			{
				Query: qdrant.NewQueryDense(vec),
				Limit: qdrant.PtrOf(uint64(prefetchLimit)),
			},
			{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{qdrant.NewMatchText(fieldText, query)},
				},
				Limit: qdrant.PtrOf(uint64(prefetchLimit)),
			},
		},
		Query:       qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:       qdrant.PtrOf(uint64(topK)),
		WithPayload: qdrant.NewWithPayload(true),
	}
}

// reviewsQuery 构造评论检索：向量召回限定在给定商品范围内
func reviewsQuery(collection string, vec []float32, itemIDs []string, topK int) *qdrant.QueryPoints {
	return &qdrant.QueryPoints{
		CollectionName: collection,
		Prefetch: []*qdrant.PrefetchQuery{
			{
				Query: qdrant.NewQueryDense(vec),
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{qdrant.NewMatchKeywords(fieldParentASIN, itemIDs...)},
				},
				Limit: qdrant.PtrOf(uint64(topK)),
			},
		},
		Query:       qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:       qdrant.PtrOf(uint64(topK)),
		WithPayload: qdrant.NewWithPayload(true),
	}
}

func productLookup(collection, id string) *qdrant.ScrollPoints {
	return &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(fieldParentASIN, id)},
		},
		Limit:       qdrant.PtrOf(uint32(1)),
		WithPayload: qdrant.NewWithPayload(true),
	}
}

func hitsFromPoints(points []*qdrant.ScoredPoint) []Hit {
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		hits = append(hits, Hit{
			ID:    payload[fieldParentASIN].GetStringValue(),
			Text:  payload[fieldText].GetStringValue(),
			Score: p.GetScore(),
		})
	}
	return hits
}

func productFromPayload(id string, payload map[string]*qdrant.Value) *Product {
	p := &Product{
		ID:          id,
		Description: payload[fieldText].GetStringValue(),
		ImageURL:    payload[fieldImage].GetStringValue(),
	}
	if v, ok := payload[fieldPrice]; ok && v != nil {
		switch k := v.GetKind().(type) {
		case *qdrant.Value_DoubleValue:
			price := k.DoubleValue
			p.Price = &price
		case *qdrant.Value_IntegerValue:
			price := float64(k.IntegerValue)
			p.Price = &price
		}
	}
	return p
}
