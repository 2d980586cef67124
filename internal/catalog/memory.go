package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Document 为内存目录中的一条商品或评论。
type Document struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	ImageURL string   `json:"image_url,omitempty"`
	Price    *float64 `json:"price,omitempty"`
}

// Fixture 为内存目录的 JSON 文件格式。
type Fixture struct {
	Items   []Document `json:"items"`
	Reviews []Document `json:"reviews"`
}

// MemoryCatalog 为本地演示与测试使用的目录，按查询词命中次数排序。
type MemoryCatalog struct {
	items   []Document
	reviews []Document
	byID    map[string]Document
}

func NewMemoryCatalog(f Fixture) *MemoryCatalog {
	m := &MemoryCatalog{items: f.Items, reviews: f.Reviews, byID: make(map[string]Document, len(f.Items))}
	for _, d := range f.Items {
		m.byID[d.ID] = d
	}
	return m
}

// LoadFixture 从 JSON 文件加载内存目录。
func LoadFixture(path string) (*MemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog fixture: %w", err)
	}
	return NewMemoryCatalog(f), nil
}

func (m *MemoryCatalog) SearchItems(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultItemsTopK
	}
	return rank(m.items, query, nil, topK), nil
}

func (m *MemoryCatalog) SearchReviews(ctx context.Context, query string, itemIDs []string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultReviewsTopK
	}
	scope := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		scope[id] = true
	}
	return rank(m.reviews, query, scope, topK), nil
}

func (m *MemoryCatalog) GetProduct(ctx context.Context, id string) (*Product, error) {
	d, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return &Product{ID: d.ID, Description: d.Text, ImageURL: d.ImageURL, Price: d.Price}, nil
}

func rank(docs []Document, query string, scope map[string]bool, topK int) []Hit {
	terms := strings.Fields(strings.ToLower(query))
	var hits []Hit
	for _, d := range docs {
		if scope != nil && !scope[d.ID] {
			continue
		}
		text := strings.ToLower(d.Text)
		score := 0
		for _, t := range terms {
			score += strings.Count(text, t)
		}
		if score == 0 {
			continue
		}
		hits = append(hits, Hit{ID: d.ID, Text: d.Text, Score: float32(score)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
