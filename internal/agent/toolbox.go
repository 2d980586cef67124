package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/tool"

	"github.com/wwwzy/ShopAgent/internal/toolspec"
)

// ToolDiscoverer 列出某个 MCP 服务提供的工具。
type ToolDiscoverer interface {
	Discover(ctx context.Context, server string) ([]toolspec.Descriptor, error)
}

// Toolbox 在每次运行前装配两个专家可用的工具清单。
//
// 本地工具的描述只计算一次；远程工具每次运行都重新发现，任一服务失败则本次运行失败。
type Toolbox struct {
	Local      []tool.BaseTool
	Servers    []string
	Discoverer ToolDiscoverer

	once      sync.Once
	localDesc []toolspec.Descriptor
	localErr  error
}

// Assemble 返回 (商品问答的远程工具, 购物车的本地工具)。
func (b *Toolbox) Assemble(ctx context.Context) ([]toolspec.Descriptor, []toolspec.Descriptor, error) {
	local, err := b.localDescriptors(ctx)
	if err != nil {
		return nil, nil, err
	}

	var remote []toolspec.Descriptor
	if len(b.Servers) > 0 {
		if b.Discoverer == nil {
			return nil, nil, fmt.Errorf("%w: no tool discoverer configured", ErrToolInvocation)
		}
		for _, server := range b.Servers {
			descs, err := b.Discoverer.Discover(ctx, server)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: discover tools on %s: %v", ErrToolInvocation, server, err)
			}
			remote = append(remote, descs...)
		}
	}
	return remote, local, nil
}

func (b *Toolbox) localDescriptors(ctx context.Context) ([]toolspec.Descriptor, error) {
	b.once.Do(func() {
		for _, t := range b.Local {
			d, err := toolspec.FromTool(ctx, t)
			if err != nil {
				b.localErr = fmt.Errorf("describe local tool: %w", err)
				return
			}
			b.localDesc = append(b.localDesc, d)
		}
	})
	return b.localDesc, b.localErr
}
