package crew

import (
	"context"

	"go-research-crew/internal/store"
)

// Runner adapts a Crew to queue.Runner, translating a persisted task into
// one Explore call and handing back the id of the finding it produced.
type Runner struct {
	crew *Crew
}

// NewRunner wraps crew so it satisfies queue.Runner without queue needing to
// import this package's Request/Result types.
func NewRunner(c *Crew) *Runner {
	return &Runner{crew: c}
}

func (r *Runner) Run(ctx context.Context, task store.Task) (string, error) {
	result, err := r.crew.Explore(ctx, Request{
		Directive:   task.Query,
		Depth:       task.Depth,
		SessionID:   task.SessionID,
		ProjectPath: task.Context,
	})
	if err != nil {
		return "", err
	}
	return result.ID, nil
}
