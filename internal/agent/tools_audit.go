package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/wwwzy/ShopAgent/internal/storage"
	"github.com/wwwzy/ShopAgent/internal/telemetry"
)

const (
	auditTruncateLimit = 2048
)

// AuditStore 为工具审计记录的持久化接口，由 storage.Storage 实现。
type AuditStore interface {
	InsertAuditRecord(ctx context.Context, rec *storage.AuditRecord) error
	UpdateAuditRecord(ctx context.Context, id uint64, up storage.AuditUpdate) error
}

// auditor 在工具执行前后写审计记录并上报指标。审计写入失败只记日志，不影响工具执行。
type auditor struct {
	store   AuditStore
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

func (a *auditor) run(ctx context.Context, kind, action, params string, fn func() (string, error)) (string, error) {
	var record *storage.AuditRecord
	if a.store != nil {
		record = &storage.AuditRecord{
			TraceID:    GetTraceID(ctx),
			Action:     action,
			ParamsJSON: truncate(params, auditTruncateLimit),
			Status:     "running",
			StartedAt:  time.Now().UTC(),
		}
		if err := a.store.InsertAuditRecord(ctx, record); err != nil {
			a.logger.Warn("insert audit record failed", zap.String("tool", action), zap.Error(err))
		}
	}

	begin := time.Now()
	result, runErr := fn()

	status := "success"
	if runErr != nil {
		status = "failed"
	}
	a.metrics.RecordToolCall(action, kind, status, time.Since(begin))

	if record != nil && record.ID != 0 {
		finishedAt := time.Now().UTC()
		up := storage.AuditUpdate{Status: &status, FinishedAt: &finishedAt}
		if runErr != nil {
			e := truncate(runErr.Error(), auditTruncateLimit)
			up.ErrorMessage = &e
		} else {
			r := truncate(result, auditTruncateLimit)
			up.ResultJSON = &r
		}
		if err := a.store.UpdateAuditRecord(ctx, record.ID, up); err != nil {
			a.logger.Warn("update audit record failed", zap.String("tool", action), zap.Error(err))
		}
	}

	return result, runErr
}

// AuditedTool 是一个工具包装器，用于在本地工具执行前后记录审计日志
type AuditedTool struct {
	impl tool.InvokableTool
	a    *auditor
}

func (t *AuditedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *AuditedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	action := "unknown"
	if info, err := t.impl.Info(ctx); err == nil && info != nil {
		action = info.Name
	}

	// 参数 JSON 不完整（例如只包含 { ）时补全为 {}
	safeArgs := argumentsInJSON
	if safeArgs == "{" || safeArgs == "" {
		safeArgs = "{}"
	}
	return t.a.run(ctx, "local", action, safeArgs, func() (string, error) {
		return t.impl.InvokableRun(ctx, safeArgs, opts...)
	})
}

// wrapWithAudit 将本地工具包装为带审计功能的工具；未实现 InvokableTool 的工具原样返回。
func wrapWithAudit(t tool.BaseTool, a *auditor) tool.BaseTool {
	if it, ok := t.(tool.InvokableTool); ok {
		return &AuditedTool{impl: it, a: a}
	}
	return t
}

// auditedInvoker 为远程工具调用加上审计。
type auditedInvoker struct {
	impl RemoteInvoker
	a    *auditor
}

func (r *auditedInvoker) CallTool(ctx context.Context, server, name string, args map[string]any) (string, error) {
	params, _ := json.Marshal(args)
	return r.a.run(ctx, "remote", name, string(params), func() (string, error) {
		return r.impl.CallTool(ctx, server, name, args)
	})
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
