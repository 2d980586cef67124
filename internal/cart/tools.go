package cart

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

const (
	ToolAddToCart  = "add_to_shopping_cart"
	ToolGetCart    = "get_shopping_cart"
	ToolRemoveItem = "remove_from_cart"
)

const addDoc = `Add a list of provided items to the shopping cart.

Args:
    items: A list of items to add to the shopping cart. Each item is an object with the keys product_id and quantity.
    user_id: The id of the user to add the items to the shopping cart.
    cart_id: The id of the shopping cart to add the items to.

Returns:
    A message describing which items were added and which could not be found.`

const getDoc = `Retrieve all items in a user's shopping cart.

Args:
    user_id: The id of the user.
    cart_id: The id of the shopping cart.

Returns:
    A list of cart items with product_id, price, quantity, currency, product_image_url and total_price, most recently added first.`

const removeDoc = `Remove an item completely from the shopping cart.

Args:
    product_id: The id of the product to remove.
    user_id: The id of the user.
    cart_id: The id of the shopping cart.

Returns:
    A message telling whether the item was removed.`

type addInput struct {
	Items  []LineItem `json:"items"`
	UserID string     `json:"user_id"`
	CartID string     `json:"cart_id"`
}

type getInput struct {
	UserID string `json:"user_id"`
	CartID string `json:"cart_id"`
}

type removeInput struct {
	ProductID string `json:"product_id"`
	UserID    string `json:"user_id"`
	CartID    string `json:"cart_id"`
}

// Tools 返回购物车 Agent 使用的三个本地工具
func (c *Cart) Tools() ([]tool.BaseTool, error) {
	add, err := utils.InferTool(ToolAddToCart, addDoc, func(ctx context.Context, in addInput) (string, error) {
		userID, cartID, err := scope(ctx, in.UserID, in.CartID)
		if err != nil {
			return "", err
		}
		res, err := c.Add(ctx, userID, cartID, in.Items)
		if err != nil {
			return "", err
		}
		return res.Message(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("build %s tool: %w", ToolAddToCart, err)
	}

	get, err := utils.InferTool(ToolGetCart, getDoc, func(ctx context.Context, in getInput) ([]Line, error) {
		userID, cartID, err := scope(ctx, in.UserID, in.CartID)
		if err != nil {
			return nil, err
		}
		return c.List(ctx, userID, cartID)
	})
	if err != nil {
		return nil, fmt.Errorf("build %s tool: %w", ToolGetCart, err)
	}

	remove, err := utils.InferTool(ToolRemoveItem, removeDoc, func(ctx context.Context, in removeInput) (string, error) {
		userID, cartID, err := scope(ctx, in.UserID, in.CartID)
		if err != nil {
			return "", err
		}
		removed, err := c.Remove(ctx, userID, cartID, in.ProductID)
		if err != nil {
			return "", err
		}
		if !removed {
			return fmt.Sprintf("Item %s was not in the shopping cart.", in.ProductID), nil
		}
		return fmt.Sprintf("Removed %s from the shopping cart.", in.ProductID), nil
	})
	if err != nil {
		return nil, fmt.Errorf("build %s tool: %w", ToolRemoveItem, err)
	}

	return []tool.BaseTool{add, get, remove}, nil
}
