// Package service 组合 Agent 引擎、购物车与商品目录，生成对外返回的回答。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wwwzy/ShopAgent/internal/agent"
	"github.com/wwwzy/ShopAgent/internal/cart"
	"github.com/wwwzy/ShopAgent/internal/catalog"
	"github.com/wwwzy/ShopAgent/internal/storage"
)

// ErrInvalidFeedback 反馈参数不合法。
var ErrInvalidFeedback = errors.New("invalid feedback")

// Runner 执行一次 Agent 运行，由 agent.Engine 实现。
type Runner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// CartLister 列出购物车内容，由 cart.Cart 实现。
type CartLister interface {
	List(ctx context.Context, userID, cartID string) ([]cart.Line, error)
}

// FeedbackStore 由 storage.Storage 实现。
type FeedbackStore interface {
	InsertFeedback(ctx context.Context, fb *storage.Feedback) error
}

// ImageRef 为回答中引用的商品图片。
type ImageRef struct {
	ImageURL    string   `json:"image_url"`
	Price       *float64 `json:"price"`
	Description string   `json:"description"`
}

// Answer 为一次提问的完整返回。
type Answer struct {
	Answer       string
	TraceID      string
	Termination  agent.Termination
	UsedImages   []ImageRef
	ShoppingCart []cart.Line
}

// Feedback 为一次用户评价。
type Feedback struct {
	Score      *int
	Text       string
	TraceID    string
	ThreadID   string
	SourceType string
}

type Service struct {
	runner   Runner
	cart     CartLister
	catalog  catalog.Lookup
	feedback FeedbackStore
	logger   *zap.Logger
}

type Config struct {
	Runner   Runner
	Cart     CartLister
	Catalog  catalog.Lookup
	Feedback FeedbackStore
	Logger   *zap.Logger
}

func New(cfg Config) (*Service, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		runner:   cfg.Runner,
		cart:     cfg.Cart,
		catalog:  cfg.Catalog,
		feedback: cfg.Feedback,
		logger:   logger,
	}, nil
}

// Ask 执行一次运行，并补充引用商品的图片价格与当前购物车。
func (s *Service) Ask(ctx context.Context, query, threadID string) (*Answer, error) {
	res, err := s.runner.Run(ctx, agent.Request{Query: query, ThreadID: threadID})
	if err != nil {
		return nil, err
	}
	threadID = strings.TrimSpace(threadID)

	out := &Answer{
		Answer:      res.Answer,
		TraceID:     res.TraceID,
		Termination: res.Termination,
		UsedImages:  s.enrich(ctx, res.RetrievedContext),
	}

	if s.cart != nil {
		lines, err := s.cart.List(ctx, threadID, threadID)
		if err != nil {
			return nil, fmt.Errorf("load shopping cart: %w", err)
		}
		out.ShoppingCart = lines
	}
	if out.ShoppingCart == nil {
		out.ShoppingCart = []cart.Line{}
	}
	return out, nil
}

// enrich 查询每个引用商品的图片与价格；目录缺失或没有图片的条目跳过
func (s *Service) enrich(ctx context.Context, refs []agent.RetrievedContext) []ImageRef {
	images := make([]ImageRef, 0, len(refs))
	if s.catalog == nil {
		return images
	}
	for _, ref := range refs {
		p, err := s.catalog.GetProduct(ctx, ref.ID)
		if err != nil {
			if !errors.Is(err, catalog.ErrProductNotFound) {
				s.logger.Warn("lookup retrieved product failed", zap.String("product_id", ref.ID), zap.Error(err))
			}
			continue
		}
		if p.ImageURL == "" {
			continue
		}
		images = append(images, ImageRef{ImageURL: p.ImageURL, Price: p.Price, Description: ref.Description})
	}
	return images
}

// SubmitFeedback 持久化一条反馈。分数只能为 0、1 或空。
func (s *Service) SubmitFeedback(ctx context.Context, fb Feedback) error {
	if s.feedback == nil {
		return errors.New("feedback store not configured")
	}
	if fb.Score != nil && *fb.Score != 0 && *fb.Score != 1 {
		return fmt.Errorf("%w: score must be 0 or 1, got %d", ErrInvalidFeedback, *fb.Score)
	}
	if strings.TrimSpace(fb.ThreadID) == "" && strings.TrimSpace(fb.TraceID) == "" {
		return fmt.Errorf("%w: thread_id or trace_id is required", ErrInvalidFeedback)
	}
	row := &storage.Feedback{
		ThreadID:   strings.TrimSpace(fb.ThreadID),
		TraceID:    strings.TrimSpace(fb.TraceID),
		Score:      fb.Score,
		Text:       fb.Text,
		SourceType: fb.SourceType,
	}
	if err := s.feedback.InsertFeedback(ctx, row); err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	s.logger.Info("feedback stored",
		zap.String("thread_id", row.ThreadID),
		zap.String("trace_id", row.TraceID),
		zap.String("source", row.SourceType),
	)
	return nil
}
