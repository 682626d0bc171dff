package logging

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type operationCtxKey struct{}
type branchCtxKey struct{}

// WithOperation attaches an operation id to the context. An empty id
// generates a new one.
func WithOperation(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, operationCtxKey{}, id)
}

// OperationID returns the operation id carried by ctx, if any.
func OperationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(operationCtxKey{}).(string)
	return id
}

// WithBranch attaches the branch being indexed to the context.
func WithBranch(ctx context.Context, branch string) context.Context {
	return context.WithValue(ctx, branchCtxKey{}, branch)
}

// BranchFromContext returns the branch carried by ctx, if any.
func BranchFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	b, _ := ctx.Value(branchCtxKey{}).(string)
	return b
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 2)
	if id := OperationID(ctx); id != "" {
		fields = append(fields, zap.String("operation.id", id))
	}
	if branch := BranchFromContext(ctx); branch != "" {
		fields = append(fields, zap.String("branch", branch))
	}
	return fields
}
