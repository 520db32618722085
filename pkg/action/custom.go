package action

import (
	"context"
	"fmt"
)

// CustomAction is the fallback variant for verbs outside the builtin
// CLUSTER_* and NODE_* families. No custom verbs are registered today;
// executing one fails rather than silently succeeding, so a bad verb in
// a persisted record surfaces as a FAILED action with a clear reason.
type CustomAction struct {
	base
}

func (c *CustomAction) Execute(ctx context.Context) (Result, string) {
	return ResultError, fmt.Sprintf("unsupported action %s", c.a.Action)
}
