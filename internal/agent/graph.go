package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wwwzy/ShopAgent/internal/telemetry"
)

const (
	NodeEntry             = "entry"
	NodeCoordinator       = "coordinator"
	NodeProductQA         = "product_qa"
	NodeProductQATools    = "product_qa_tools"
	NodeShoppingCart      = "shopping_cart"
	NodeShoppingCartTools = "shopping_cart_tools"
)

// DefaultMaxRunSteps 图的最大执行步数。协调者与专家的迭代上限保证正常运行远小于该值。
const DefaultMaxRunSteps = 100

// CheckpointStore 按线程保存会话状态快照。
type CheckpointStore interface {
	// LoadCheckpoint 返回线程最近一次快照，不存在时返回 nil, nil。
	LoadCheckpoint(ctx context.Context, threadID string) ([]byte, error)
	SaveCheckpoint(ctx context.Context, threadID, nextNode, status string, state []byte) error
}

// Config 为构建 Agent 图所需的全部依赖。
type Config struct {
	// 各 Agent 的候选模型，按回退顺序排列
	Coordinator  []Candidate
	ProductQA    []Candidate
	ShoppingCart []Candidate

	Prompts *PromptSet

	// 远程工具
	Remote      RemoteInvoker
	Discoverer  ToolDiscoverer
	ToolServers []string

	// 本地购物车工具
	LocalTools []tool.BaseTool

	Checkpoints CheckpointStore
	Audit       AuditStore

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Tracer  trace.Tracer

	MaxSteps int
}

func init() {
	// 同一超步内只会有一个前驱激活，合并时取最后一个值
	compose.RegisterValuesMergeFunc(func(vs []State) (State, error) {
		if len(vs) == 0 {
			return State{}, nil
		}
		return vs[len(vs)-1], nil
	})
}

// runFailure 记录节点返回的原始错误，引擎据此返回未经图运行时包装的错误。
type runFailure struct {
	err error
}

type runFailureKey struct{}

func withRunFailure(ctx context.Context) (context.Context, *runFailure) {
	f := &runFailure{}
	return context.WithValue(ctx, runFailureKey{}, f), f
}

func recordFailure(ctx context.Context, err error) {
	if f, ok := ctx.Value(runFailureKey{}).(*runFailure); ok && f.err == nil {
		f.err = err
	}
}

type graphBuilder struct {
	cfg    Config
	deps   NodeDeps
	logger *zap.Logger
}

// BuildGraph 构建多 Agent 的处理流程图
//
//	entry -> coordinator -> product_qa <-> product_qa_tools
//	                     -> shopping_cart <-> shopping_cart_tools
//
// 专家结束后回到协调者。每个节点执行后合并 Update、计算下一节点并写入检查点，
// 因此任意节点之后中断都可以从检查点记录的 NextNode 继续。
func BuildGraph(ctx context.Context, cfg Config) (compose.Runnable[State, State], error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &graphBuilder{
		cfg:    cfg,
		logger: logger,
		deps:   NodeDeps{Prompts: cfg.Prompts, Logger: logger, Metrics: cfg.Metrics, Tracer: cfg.Tracer},
	}
	a := &auditor{store: cfg.Audit, logger: logger, metrics: cfg.Metrics}

	var remote RemoteInvoker
	if cfg.Remote != nil {
		remote = &auditedInvoker{impl: cfg.Remote, a: a}
	}
	local := make([]tool.BaseTool, 0, len(cfg.LocalTools))
	for _, t := range cfg.LocalTools {
		local = append(local, wrapWithAudit(t, a))
	}
	localNode, err := NewLocalToolNode(ctx, local)
	if err != nil {
		return nil, err
	}

	// 初始化 Graph，输入输出都是 State
	g := compose.NewGraph[State, State]()

	// 1. 添加节点
	nodes := map[string]func(context.Context, State) (Update, error){
		NodeCoordinator: func(ctx context.Context, s State) (Update, error) {
			return CoordinatorNode(ctx, s, cfg.Coordinator, b.deps)
		},
		NodeProductQA: func(ctx context.Context, s State) (Update, error) {
			return ProductQANode(ctx, s, cfg.ProductQA, b.deps)
		},
		NodeProductQATools: func(ctx context.Context, s State) (Update, error) {
			return RemoteToolNode(ctx, s, remote, logger)
		},
		NodeShoppingCart: func(ctx context.Context, s State) (Update, error) {
			return ShoppingCartNode(ctx, s, cfg.ShoppingCart, b.deps)
		},
		NodeShoppingCartTools: localNode.Run,
	}
	if err := g.AddLambdaNode(NodeEntry, compose.InvokableLambda(entry)); err != nil {
		return nil, err
	}
	for name, run := range nodes {
		if err := g.AddLambdaNode(name, compose.InvokableLambda(b.step(name, run))); err != nil {
			return nil, err
		}
	}

	// 2. 添加边与分支，分支统一读取节点计算好的 NextNode
	if err := g.AddEdge(compose.START, NodeEntry); err != nil {
		return nil, err
	}
	branches := map[string][]string{
		NodeEntry:             {NodeCoordinator, NodeProductQA, NodeProductQATools, NodeShoppingCart, NodeShoppingCartTools},
		NodeCoordinator:       {NodeProductQA, NodeShoppingCart},
		NodeProductQA:         {NodeProductQATools, NodeCoordinator},
		NodeProductQATools:    {NodeProductQA},
		NodeShoppingCart:      {NodeShoppingCartTools, NodeCoordinator},
		NodeShoppingCartTools: {NodeShoppingCart},
	}
	for from, targets := range branches {
		ends := map[string]bool{compose.END: true}
		for _, t := range targets {
			ends[t] = true
		}
		if err := g.AddBranch(from, compose.NewGraphBranch(followNextNode, ends)); err != nil {
			return nil, fmt.Errorf("add branch from %s: %w", from, err)
		}
	}

	// 3. 编译 Graph
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxRunSteps
	}
	return g.Compile(ctx,
		compose.WithGraphName("shop_agent"),
		compose.WithMaxRunSteps(maxSteps),
	)
}

// entry 校验恢复节点，未设置时从协调者开始
func entry(ctx context.Context, s State) (State, error) {
	if s.NextNode == "" {
		s.NextNode = NodeCoordinator
	}
	if !IsNode(s.NextNode) {
		err := fmt.Errorf("%w: %q", ErrUnknownNode, s.NextNode)
		recordFailure(ctx, err)
		return s, err
	}
	return s, nil
}

func followNextNode(ctx context.Context, s State) (string, error) {
	if s.NextNode == "" {
		return compose.END, nil
	}
	return s.NextNode, nil
}

// step 包装单个节点：执行、合并、路由、写检查点
func (b *graphBuilder) step(node string, run func(context.Context, State) (Update, error)) func(context.Context, State) (State, error) {
	return func(ctx context.Context, s State) (State, error) {
		b.cfg.Metrics.RecordNodeVisit(node)
		ctx, span := b.deps.tracer().Start(ctx, "graph."+node,
			trace.WithAttributes(attribute.String("graph.node", node), attribute.String("thread.id", s.ThreadID)))
		defer span.End()

		fail := func(err error) (State, error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			recordFailure(ctx, err)
			return s, err
		}

		u, err := run(ctx, s)
		if err != nil {
			return fail(nodeError(node, err))
		}
		if err := s.Apply(u); err != nil {
			return fail(nodeError(node, err))
		}
		s.NextNode = NextNode(node, s)
		if s.NextNode == "" {
			s.Status = StatusCompleted
		}
		span.SetAttributes(attribute.String("graph.next_node", s.NextNode))

		if err := saveCheckpoint(ctx, b.cfg.Checkpoints, s); err != nil {
			return fail(err)
		}
		return s, nil
	}
}

// NextNode 根据路由函数计算 node 之后应进入的节点，空字符串表示运行结束。
func NextNode(node string, s State) string {
	switch node {
	case NodeCoordinator:
		switch RouteCoordinator(s) {
		case RouteToProductQA:
			return NodeProductQA
		case RouteToShoppingCart:
			return NodeShoppingCart
		default:
			return ""
		}
	case NodeProductQA:
		if RouteProductQA(s) == RouteTools {
			return NodeProductQATools
		}
		return NodeCoordinator
	case NodeShoppingCart:
		if RouteShoppingCart(s) == RouteTools {
			return NodeShoppingCartTools
		}
		return NodeCoordinator
	case NodeProductQATools:
		return NodeProductQA
	case NodeShoppingCartTools:
		return NodeShoppingCart
	default:
		return NodeCoordinator
	}
}

// IsNode 判断 name 是否为可进入的图节点。
func IsNode(name string) bool {
	switch name {
	case NodeCoordinator, NodeProductQA, NodeProductQATools, NodeShoppingCart, NodeShoppingCartTools:
		return true
	default:
		return false
	}
}

func saveCheckpoint(ctx context.Context, store CheckpointStore, s State) error {
	if store == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: marshal state: %v", ErrCheckpoint, err)
	}
	if err := store.SaveCheckpoint(ctx, s.ThreadID, s.NextNode, s.Status, data); err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrCheckpoint, s.ThreadID, err)
	}
	return nil
}

func loadCheckpoint(ctx context.Context, store CheckpointStore, threadID string) (*State, error) {
	if store == nil {
		return nil, nil
	}
	data, err := store.LoadCheckpoint(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrCheckpoint, threadID, err)
	}
	if data == nil {
		return nil, nil
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrCheckpoint, threadID, err)
	}
	return &s, nil
}
