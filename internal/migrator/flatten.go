package migrator

import (
	"context"
	"fmt"

	"example.com/asana-importer/internal/migrator/model"
)

// maxSubtaskDepth bounds hierarchy traversal. The source API cannot express
// cycles through its UI, but nothing stops one arriving over the API, so the
// traversal refuses pathological trees instead of recursing forever.
const maxSubtaskDepth = 32

// flattenSubtasks expands a task's subtask tree into a flat, depth-annotated
// sequence: DFS pre-order, parents before descendants, siblings in fetch
// order, the root itself excluded. Each subtask's Depth is set to its
// parent's depth plus one before any other use.
func flattenSubtasks(ctx context.Context, src model.SourceClient, root *model.Task) ([]*model.Task, error) {
	stack := []*model.Task{root}
	visited := map[int64]bool{root.ID: true}
	var out []*model.Task

	for len(stack) > 0 {
		parent := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		refs, err := src.Subtasks(ctx, parent.ID)
		if err != nil {
			return nil, fmt.Errorf("list subtasks of %d: %w", parent.ID, err)
		}
		if len(refs) > 0 && parent.Depth >= maxSubtaskDepth {
			return nil, fmt.Errorf("task %d: subtask depth exceeds %d", root.ID, maxSubtaskDepth)
		}

		children := make([]*model.Task, 0, len(refs))
		for _, ref := range refs {
			if visited[ref.ID] {
				return nil, fmt.Errorf("task %d: subtask cycle at %d", root.ID, ref.ID)
			}
			visited[ref.ID] = true
			child, err := src.TaskByID(ctx, ref.ID)
			if err != nil {
				return nil, fmt.Errorf("fetch subtask %d: %w", ref.ID, err)
			}
			child.Depth = parent.Depth + 1
			children = append(children, child)
		}

		// push in reverse so siblings pop in fetch order
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
		if parent != root {
			out = append(out, parent)
		}
	}
	return out, nil
}
