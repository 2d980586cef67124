package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddCartItem 将商品加入购物车。
//
// 若 (user_id, cart_id, product_id) 已存在，则在同一条语句内累加数量并刷新价格与图片，
// 依赖数据库的唯一约束保证并发写入时数量不会丢失。
func (s *Storage) AddCartItem(ctx context.Context, item *CartItem) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if item == nil {
		return errors.New("cart item is nil")
	}
	if item.UserID == "" || item.CartID == "" || item.ProductID == "" {
		return errors.New("user_id, cart_id and product_id are required")
	}
	if item.Quantity <= 0 {
		return fmt.Errorf("invalid quantity %d for product %s", item.Quantity, item.ProductID)
	}
	if item.Currency == "" {
		item.Currency = "USD"
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "cart_id"}, {Name: "product_id"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "quantity"}, Value: gorm.Expr("cart_items.quantity + excluded.quantity")},
			{Column: clause.Column{Name: "price"}, Value: gorm.Expr("COALESCE(excluded.price, cart_items.price)")},
			{Column: clause.Column{Name: "product_image_url"}, Value: gorm.Expr("COALESCE(excluded.product_image_url, cart_items.product_image_url)")},
		},
	}).Create(item).Error
	if err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return nil
}

// ListCartItems 返回购物车全部条目，最近加入的在前。
func (s *Storage) ListCartItems(ctx context.Context, userID, cartID string) ([]CartItem, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	var out []CartItem
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND cart_id = ?", userID, cartID).
		Order("added_at DESC").
		Order("id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	return out, nil
}

// RemoveCartItem 按精确键删除一行，返回是否确实删除了数据；键不存在不视为错误。
func (s *Storage) RemoveCartItem(ctx context.Context, userID, cartID, productID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("storage not initialized")
	}
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND cart_id = ? AND product_id = ?", userID, cartID, productID).
		Delete(&CartItem{})
	if res.Error != nil {
		return false, fmt.Errorf("remove cart item: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Storage) CountCartItems(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&CartItem{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count cart items: %w", err)
	}
	return n, nil
}
