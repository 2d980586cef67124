// Package toolspec 描述提供给模型的工具清单。
//
// 本地工具的描述从 eino ToolInfo（参数 schema 由结构体标签推导）与工具文档注释中提取，
// 远程工具的描述来自 MCP 服务端的 tools/list 结果。两者统一转换为 Descriptor，
// 渲染为 JSON 后填入各 Agent 的提示词。
package toolspec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
)

// Descriptor 为单个工具的描述。
type Descriptor struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
	Required    []string   `json:"required"`
	Returns     Returns    `json:"returns"`
	// Server 仅远程工具填写，为 MCP 服务地址；模型生成调用时需原样带回。
	Server string `json:"server,omitempty"`
}

type Parameters struct {
	Type       string                    `json:"type"`
	Properties map[string]map[string]any `json:"properties"`
}

type Returns struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Docstring 为解析后的工具文档注释。
type Docstring struct {
	Summary string
	Params  map[string]string
	Returns string
}

var paramSections = map[string]bool{
	"Args:":       true,
	"Arguments:":  true,
	"Parameters:": true,
	"Params:":     true,
}

// ParseDocstring 解析形如
//
//	Summary line.
//
//	Args:
//	    query: the search text
//	    top_k: number of results
//
//	Returns:
//	    A formatted string.
//
// 的文档注释。参数行支持 "name: desc" 与 "- name: desc" 两种写法，缩进的续行拼接到上一个参数。
func ParseDocstring(doc string) Docstring {
	out := Docstring{Params: map[string]string{}}
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return out
	}

	lines := strings.Split(doc, "\n")

	var summary []string
	inParams, inReturns, summaryDone := false, false, false
	current := ""
	var returns []string

	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		switch {
		case paramSections[stripped]:
			inParams, inReturns, summaryDone = true, false, true
			current = ""
			continue
		case strings.HasPrefix(stripped, "Returns:"):
			inParams, inReturns, summaryDone = false, true, true
			if rest := strings.TrimSpace(strings.TrimPrefix(stripped, "Returns:")); rest != "" {
				returns = append(returns, rest)
			}
			continue
		case strings.HasPrefix(stripped, "Raises:"):
			inParams, inReturns, summaryDone = false, false, true
			continue
		}

		switch {
		case inParams:
			if stripped == "" {
				continue
			}
			body := strings.TrimLeft(stripped, "-* ")
			name, desc, ok := strings.Cut(body, ":")
			if ok && isIdent(strings.TrimSpace(name)) {
				current = strings.TrimSpace(name)
				out.Params[current] = strings.TrimSpace(desc)
				continue
			}
			if current != "" {
				out.Params[current] = strings.TrimSpace(out.Params[current] + " " + stripped)
			}
		case inReturns:
			if stripped != "" {
				returns = append(returns, stripped)
			}
		default:
			// 摘要为第一个空行或第一个小节之前的段落
			if summaryDone {
				continue
			}
			if stripped == "" {
				summaryDone = len(summary) > 0
				continue
			}
			summary = append(summary, stripped)
		}
	}

	out.Summary = strings.Join(summary, " ")
	out.Returns = strings.Join(returns, " ")
	return out
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// FromTool 从本地 eino 工具提取描述：参数 schema 来自 ToolInfo，文字说明来自 ToolInfo.Desc 中的文档注释。
func FromTool(ctx context.Context, t tool.BaseTool) (Descriptor, error) {
	if t == nil {
		return Descriptor{}, errors.New("tool is nil")
	}
	info, err := t.Info(ctx)
	if err != nil {
		return Descriptor{}, fmt.Errorf("get tool info: %w", err)
	}

	var props map[string]map[string]any
	var required []string
	if info.ParamsOneOf != nil {
		js, err := info.ParamsOneOf.ToJSONSchema()
		if err != nil {
			return Descriptor{}, fmt.Errorf("tool %s schema: %w", info.Name, err)
		}
		raw, err := json.Marshal(js)
		if err != nil {
			return Descriptor{}, fmt.Errorf("marshal tool %s schema: %w", info.Name, err)
		}
		var parsed struct {
			Properties map[string]map[string]any `json:"properties"`
			Required   []string                  `json:"required"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return Descriptor{}, fmt.Errorf("decode tool %s schema: %w", info.Name, err)
		}
		props, required = parsed.Properties, parsed.Required
	}

	return build(info.Name, info.Desc, props, required, ""), nil
}

// FromRemote 从 MCP tools/list 返回的条目构造描述。
func FromRemote(server, name, description string, properties map[string]any, required []string) Descriptor {
	props := make(map[string]map[string]any, len(properties))
	for k, v := range properties {
		if m, ok := v.(map[string]any); ok {
			props[k] = cloneMap(m)
			continue
		}
		props[k] = map[string]any{}
	}
	return build(name, description, props, required, server)
}

func build(name, doc string, props map[string]map[string]any, required []string, server string) Descriptor {
	parsed := ParseDocstring(doc)
	if props == nil {
		props = map[string]map[string]any{}
	}
	for k, p := range props {
		if desc, ok := parsed.Params[k]; ok && desc != "" {
			p["description"] = desc
		} else if _, has := p["description"]; !has {
			p["description"] = ""
		}
	}
	if required == nil {
		required = []string{}
	}
	return Descriptor{
		Name:        name,
		Description: parsed.Summary,
		Parameters:  Parameters{Type: "object", Properties: props},
		Required:    required,
		Returns:     Returns{Type: "string", Description: parsed.Returns},
		Server:      server,
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Render 将描述列表渲染为缩进 JSON，供提示词模板直接嵌入。
func Render(descs []Descriptor) (string, error) {
	if descs == nil {
		descs = []Descriptor{}
	}
	b, err := json.MarshalIndent(descs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render tool descriptors: %w", err)
	}
	return string(b), nil
}
