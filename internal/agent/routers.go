package agent

const (
	// MaxSpecialistIterations 专家 Agent 的迭代次数超过该值后强制返回协调者。
	MaxSpecialistIterations = 3
	// MaxCoordinatorIterations 协调者迭代次数超过该值后强制结束运行。
	MaxCoordinatorIterations = 4
)

// Route 为路由函数的决定。
type Route string

const (
	RouteEnd            Route = "end"
	RouteTools          Route = "tools"
	RouteToProductQA    Route = "product_qa_agent"
	RouteToShoppingCart Route = "shopping_cart_agent"
)

// RouteProductQA 在商品问答节点之后执行。
func RouteProductQA(s State) Route {
	switch {
	case s.ProductQA.FinalAnswer:
		return RouteEnd
	case s.ProductQA.Iteration > MaxSpecialistIterations:
		return RouteEnd
	case len(s.MCPToolCalls) > 0:
		return RouteTools
	default:
		return RouteEnd
	}
}

// RouteShoppingCart 在购物车节点之后执行。
func RouteShoppingCart(s State) Route {
	switch {
	case s.ShoppingCart.FinalAnswer:
		return RouteEnd
	case s.ShoppingCart.Iteration > MaxSpecialistIterations:
		return RouteEnd
	case len(s.ToolCalls) > 0:
		return RouteTools
	default:
		return RouteEnd
	}
}

// RouteCoordinator 在协调者节点之后执行。
func RouteCoordinator(s State) Route {
	switch {
	case s.Coordinator.FinalAnswer:
		return RouteEnd
	case s.Coordinator.Iteration > MaxCoordinatorIterations:
		return RouteEnd
	case s.NextAgent == AgentProductQA:
		return RouteToProductQA
	case s.NextAgent == AgentShoppingCart:
		return RouteToShoppingCart
	default:
		return RouteEnd
	}
}

// Termination 描述协调者结束运行的原因。
type Termination string

const (
	TerminationFinalAnswer    Termination = "final_answer"
	TerminationIterationLimit Termination = "iteration_limit"
	TerminationNoRoute        Termination = "no_route"
)

// TerminationOf 根据终态判断运行结束原因，判断顺序与 RouteCoordinator 一致。
func TerminationOf(s State) Termination {
	switch {
	case s.Coordinator.FinalAnswer:
		return TerminationFinalAnswer
	case s.Coordinator.Iteration > MaxCoordinatorIterations:
		return TerminationIterationLimit
	default:
		return TerminationNoRoute
	}
}
