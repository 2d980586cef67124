// Package cart 实现购物车 Agent 的本地工具：加入购物车、查看购物车、移出购物车。
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wwwzy/ShopAgent/internal/agent"
	"github.com/wwwzy/ShopAgent/internal/catalog"
	"github.com/wwwzy/ShopAgent/internal/storage"
)

// Store 为购物车的持久化接口，由 storage.Storage 实现。
type Store interface {
	AddCartItem(ctx context.Context, item *storage.CartItem) error
	ListCartItems(ctx context.Context, userID, cartID string) ([]storage.CartItem, error)
	RemoveCartItem(ctx context.Context, userID, cartID, productID string) (bool, error)
}

// LineItem 为一次加入购物车请求中的一项。
type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Line 为购物车中的一行。
type Line struct {
	ProductID       string   `json:"product_id"`
	Price           *float64 `json:"price"`
	Quantity        int      `json:"quantity"`
	Currency        string   `json:"currency"`
	ProductImageURL *string  `json:"product_image_url"`
	TotalPrice      *float64 `json:"total_price"`
}

// AddResult 为加入购物车的结果。
type AddResult struct {
	Added    []LineItem
	NotFound []string
	Invalid  []LineItem
}

// Message 生成返回给模型的文字说明。
func (r AddResult) Message() string {
	var parts []string
	if len(r.Added) > 0 {
		items := make([]string, 0, len(r.Added))
		for _, it := range r.Added {
			items = append(items, fmt.Sprintf("%d x %s", it.Quantity, it.ProductID))
		}
		parts = append(parts, fmt.Sprintf("Added %s to the shopping cart.", strings.Join(items, ", ")))
	}
	for _, id := range r.NotFound {
		parts = append(parts, fmt.Sprintf("Could not add %s: item not found.", id))
	}
	for _, it := range r.Invalid {
		parts = append(parts, fmt.Sprintf("Could not add %s: quantity must be positive, got %d.", it.ProductID, it.Quantity))
	}
	if len(parts) == 0 {
		return "No items were added to the shopping cart."
	}
	return strings.Join(parts, " ")
}

// Cart 组合购物车存储与商品目录。
type Cart struct {
	store   Store
	catalog catalog.Lookup
}

func New(store Store, lookup catalog.Lookup) *Cart {
	return &Cart{store: store, catalog: lookup}
}

// Add 加入商品：价格与图片从目录读取，已有的行累加数量。目录中找不到的商品不会写入。
func (c *Cart) Add(ctx context.Context, userID, cartID string, items []LineItem) (AddResult, error) {
	var res AddResult
	for _, it := range items {
		it.ProductID = strings.TrimSpace(it.ProductID)
		if it.ProductID == "" {
			continue
		}
		if it.Quantity <= 0 {
			res.Invalid = append(res.Invalid, it)
			continue
		}

		row := &storage.CartItem{
			UserID:    userID,
			CartID:    cartID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Currency:  "USD",
		}
		if c.catalog != nil {
			p, err := c.catalog.GetProduct(ctx, it.ProductID)
			if err != nil {
				if errors.Is(err, catalog.ErrProductNotFound) {
					res.NotFound = append(res.NotFound, it.ProductID)
					continue
				}
				return res, fmt.Errorf("lookup product %s: %w", it.ProductID, err)
			}
			row.Price = p.Price
			if p.ImageURL != "" {
				img := p.ImageURL
				row.ProductImageURL = &img
			}
		}

		if err := c.store.AddCartItem(ctx, row); err != nil {
			return res, fmt.Errorf("add %s: %w", it.ProductID, err)
		}
		res.Added = append(res.Added, it)
	}
	return res, nil
}

// List 返回购物车内容，最近加入的在前。
func (c *Cart) List(ctx context.Context, userID, cartID string) ([]Line, error) {
	rows, err := c.store.ListCartItems(ctx, userID, cartID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	lines := make([]Line, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, Line{
			ProductID:       r.ProductID,
			Price:           r.Price,
			Quantity:        r.Quantity,
			Currency:        r.Currency,
			ProductImageURL: r.ProductImageURL,
			TotalPrice:      r.TotalPrice(),
		})
	}
	return lines, nil
}

// Remove 按主键删除一行，返回是否删除了数据。
func (c *Cart) Remove(ctx context.Context, userID, cartID, productID string) (bool, error) {
	removed, err := c.store.RemoveCartItem(ctx, userID, cartID, strings.TrimSpace(productID))
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", productID, err)
	}
	return removed, nil
}

// scope 决定工具操作的购物车：优先使用图注入的会话归属，否则使用模型给出的参数
func scope(ctx context.Context, userID, cartID string) (string, string, error) {
	if s, ok := agent.GetCartScope(ctx); ok && s.UserID != "" && s.CartID != "" {
		return s.UserID, s.CartID, nil
	}
	userID, cartID = strings.TrimSpace(userID), strings.TrimSpace(cartID)
	if userID == "" || cartID == "" {
		return "", "", errors.New("user_id and cart_id are required")
	}
	return userID, cartID, nil
}
