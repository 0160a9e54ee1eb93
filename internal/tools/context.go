// ABOUTME: Request-scoped values tool invocations read from the context
// ABOUTME: Carries the conversation id and the per-request tool call budget

package tools

import (
	"context"
	"sync/atomic"
)

// DefaultBudget is the number of tool calls allowed per chat request.
const DefaultBudget = 6

type ctxKey int

const (
	conversationKey ctxKey = iota
	budgetKey
)

// WithConversationID tags ctx with the conversation whose progress channel
// receives tool events.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationKey, id)
}

// ConversationID returns the id set by WithConversationID, or "".
func ConversationID(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey).(string)
	return id
}

type budget struct {
	limit int64
	used  atomic.Int64
}

// WithBudget limits ctx to n tool calls. n <= 0 means DefaultBudget.
func WithBudget(ctx context.Context, n int) context.Context {
	if n <= 0 {
		n = DefaultBudget
	}
	return context.WithValue(ctx, budgetKey, &budget{limit: int64(n)})
}

// BudgetLimit returns the budget set on ctx, or 0 when unlimited.
func BudgetLimit(ctx context.Context) int {
	if b, ok := ctx.Value(budgetKey).(*budget); ok {
		return int(b.limit)
	}
	return 0
}

// CallsUsed reports how many calls were charged against ctx's budget,
// including refused ones.
func CallsUsed(ctx context.Context) int {
	if b, ok := ctx.Value(budgetKey).(*budget); ok {
		return int(b.used.Load())
	}
	return 0
}

// charge consumes one call. It returns false once the budget is spent.
// Contexts without a budget are unlimited.
func charge(ctx context.Context) bool {
	b, ok := ctx.Value(budgetKey).(*budget)
	if !ok {
		return true
	}
	return b.used.Add(1) <= b.limit
}
