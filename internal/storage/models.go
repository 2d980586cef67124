package storage

import "time"

// CartItem 表示购物车中的一行商品。
//
// (user_id, cart_id, product_id) 唯一：同一商品重复加入时只累加数量，不会产生第二行。
type CartItem struct {
	// ID 为自增主键（内部使用），同一 AddedAt 下作为稳定的次级排序键。
	ID uint64 `gorm:"primaryKey"`
	// UserID/CartID 标识购物车归属；当前部署中二者都取自会话线程 ID。
	UserID string `gorm:"size:128;not null;uniqueIndex:idx_cart_items_key,priority:1"`
	CartID string `gorm:"size:128;not null;uniqueIndex:idx_cart_items_key,priority:2"`
	// ProductID 为商品目录中的 parent_asin。
	ProductID string `gorm:"size:64;not null;uniqueIndex:idx_cart_items_key,priority:3"`
	Quantity  int    `gorm:"not null"`
	// Price 为加入时从商品目录读取的标价；目录缺失价格时为空。
	Price *float64
	// Currency 目前固定为 USD。
	Currency        string `gorm:"size:8;not null;default:USD"`
	ProductImageURL *string `gorm:"type:text"`
	AddedAt         time.Time `gorm:"not null;index"`
}

// TotalPrice 返回 price × quantity；价格未知时返回 nil。
func (c CartItem) TotalPrice() *float64 {
	if c.Price == nil {
		return nil
	}
	total := *c.Price * float64(c.Quantity)
	return &total
}

// Checkpoint 保存一个会话线程最近一次节点边界上的完整状态快照。
type Checkpoint struct {
	ThreadID string `gorm:"primaryKey;size:128"`
	// StateJSON 为序列化后的会话状态，格式由 agent 包定义，存储层不解析。
	StateJSON string `gorm:"type:text;not null"`
	// NextNode 为恢复执行时应进入的节点；正常结束的运行为空。
	NextNode string `gorm:"size:64"`
	// Status 为 running/completed。
	Status    string    `gorm:"size:32;not null;index"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

// Feedback 为用户对某次回答的评价。
type Feedback struct {
	ID       uint64 `gorm:"primaryKey"`
	ThreadID string `gorm:"size:128;index"`
	TraceID  string `gorm:"size:64;index"`
	// Score 取值 0/1；为空表示只留了文字反馈。
	Score      *int
	Text       string    `gorm:"type:text"`
	SourceType string    `gorm:"size:32"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime;index"`
}

// AuditRecord 记录一次工具调用及其结果，用于审计、追溯与后续分析。
//
// 一条审计记录对应 Agent 在一次运行中发起的一次工具调用（例如：加入购物车、检索商品）。
// 复杂入参/输出统一以 JSON 字符串存放，便于快速落地与版本演进。
type AuditRecord struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// TraceID 用于串联一次对话运行，便于按链路聚合审计。
	TraceID string `gorm:"size:64;index"`
	// Action 为工具名，例如 add_to_shopping_cart、get_formatted_item_context。
	Action string `gorm:"size:128;not null;index"`
	// ParamsJSON 存放工具入参（JSON 字符串）。
	ParamsJSON string `gorm:"type:text"`
	// ResultJSON 存放工具输出摘要。
	ResultJSON string `gorm:"type:text"`
	// Status 表示执行状态（running/success/failed）。
	Status string `gorm:"size:32;not null;index"`
	// ErrorMessage 存放失败时的错误信息。
	ErrorMessage string `gorm:"type:text"`
	// StartedAt/FinishedAt 表示调用起止时间。
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time `gorm:"index"`
	// CreatedAt 为记录写入数据库的时间，默认自动填充。
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}
