package tools

import (
	"context"
	"encoding/json"

	"github.com/castellan-dev/castellan/internal/engine"
	"github.com/castellan-dev/castellan/internal/store"
	"github.com/google/uuid"
)

// TasksFactory backs the "tasks" capability: the agent's own read/write
// surface over the standing Task records the Task Scheduler
// separately nudges forward. An agent sees and mutates only tasks it
// owns; done/canceled go through the store's Close so terminal tasks
// land in the history log and a cancellation cascades to subtasks.
func TasksFactory(_ context.Context, fctx FactoryContext) (Server, error) {
	stores := fctx.Stores
	agentID := fctx.Agent.ID
	threadID := fctx.ThreadID

	ownTask := func(ctx context.Context, taskID string) (store.Task, string) {
		t, err := stores.Tasks.Get(ctx, taskID)
		if err != nil {
			return store.Task{}, err.Error()
		}
		if t.Owner != agentID {
			return store.Task{}, "task " + taskID + " is not owned by this agent"
		}
		return t, ""
	}

	return Server{
		Name: "tasks",
		Tools: []engine.ToolDefinition{
			{
				Name:        "task_create",
				Description: "Create a new standing task owned by this agent, optionally with initial steps.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"subject"},
					"properties": map[string]interface{}{
						"subject":     map[string]interface{}{"type": "string"},
						"description": map[string]interface{}{"type": "string"},
						"steps":       map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					subject, _ := args["subject"].(string)
					if subject == "" {
						return errResult("task_create: subject is required")
					}
					description, _ := args["description"].(string)
					var steps []store.Step
					if raw, ok := args["steps"].([]interface{}); ok {
						for _, s := range raw {
							title, _ := s.(string)
							if title == "" {
								continue
							}
							steps = append(steps, store.Step{Title: title})
						}
					}
					t, err := stores.Tasks.Create(ctx, store.Task{
						ID:          uuid.NewString(),
						Subject:     subject,
						Description: description,
						Owner:       agentID,
						CreatedBy:   agentID,
						ThreadID:    threadID,
						Status:      store.TaskStatusActive,
						Steps:       steps,
					})
					if err != nil {
						return errResult("task_create: %v", err)
					}
					data, _ := json.Marshal(t)
					return textResult(string(data))
				},
			},
			{
				Name:        "task_list",
				Description: "List this agent's own live tasks.",
				Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
				Handler: func(ctx context.Context, _ map[string]interface{}) (string, bool) {
					tasks, err := stores.Tasks.ListByOwner(ctx, agentID)
					if err != nil {
						return errResult("task_list: %v", err)
					}
					data, _ := json.Marshal(tasks)
					return textResult(string(data))
				},
			},
			{
				Name:        "task_update_status",
				Description: "Move one of this agent's own tasks between active and waiting, or close it as done/canceled. Canceling cascades to linked subtasks.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"taskId", "status"},
					"properties": map[string]interface{}{
						"taskId": map[string]interface{}{"type": "string"},
						"status": map[string]interface{}{"type": "string", "enum": []string{"active", "waiting", "done", "canceled"}},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					taskID, _ := args["taskId"].(string)
					statusArg, _ := args["status"].(string)
					status := store.TaskStatus(statusArg)
					t, msg := ownTask(ctx, taskID)
					if msg != "" {
						return errResult("task_update_status: %s", msg)
					}
					if status.IsTerminal() {
						if _, err := stores.Tasks.Close(ctx, taskID, status); err != nil {
							return errResult("task_update_status: %v", err)
						}
						return textResult("closed as " + string(status))
					}
					t.Status = status
					if _, err := stores.Tasks.Update(ctx, t); err != nil {
						return errResult("task_update_status: %v", err)
					}
					return textResult("updated")
				},
			},
			{
				Name:        "task_add_step",
				Description: "Append a new step to one of this agent's own tasks.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"taskId", "title"},
					"properties": map[string]interface{}{
						"taskId": map[string]interface{}{"type": "string"},
						"title":  map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					taskID, _ := args["taskId"].(string)
					title, _ := args["title"].(string)
					t, msg := ownTask(ctx, taskID)
					if msg != "" {
						return errResult("task_add_step: %s", msg)
					}
					t.Steps = append(t.Steps, store.Step{Title: title})
					if _, err := stores.Tasks.Update(ctx, t); err != nil {
						return errResult("task_add_step: %v", err)
					}
					return textResult("step added")
				},
			},
			{
				Name:        "task_complete_step",
				Description: "Mark a step of one of this agent's own tasks as done, by its zero-based index.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"taskId", "stepIndex"},
					"properties": map[string]interface{}{
						"taskId":    map[string]interface{}{"type": "string"},
						"stepIndex": map[string]interface{}{"type": "integer"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					taskID, _ := args["taskId"].(string)
					idxF, ok := args["stepIndex"].(float64)
					if !ok {
						return errResult("task_complete_step: stepIndex is required")
					}
					t, msg := ownTask(ctx, taskID)
					if msg != "" {
						return errResult("task_complete_step: %s", msg)
					}
					idx := int(idxF)
					if idx < 0 || idx >= len(t.Steps) {
						return errResult("task_complete_step: step index %d out of range", idx)
					}
					t.Steps[idx].Done = true
					if _, err := stores.Tasks.Update(ctx, t); err != nil {
						return errResult("task_complete_step: %v", err)
					}
					return textResult("step completed")
				},
			},
			{
				Name:        "task_add_subtask",
				Description: "Create a subtask of one of this agent's own tasks and link it from a new step. Canceling the parent later cancels the subtask too.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"taskId", "subject"},
					"properties": map[string]interface{}{
						"taskId":      map[string]interface{}{"type": "string"},
						"subject":     map[string]interface{}{"type": "string"},
						"description": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (string, bool) {
					taskID, _ := args["taskId"].(string)
					subject, _ := args["subject"].(string)
					if subject == "" {
						return errResult("task_add_subtask: subject is required")
					}
					description, _ := args["description"].(string)
					parent, msg := ownTask(ctx, taskID)
					if msg != "" {
						return errResult("task_add_subtask: %s", msg)
					}
					child, err := stores.Tasks.Create(ctx, store.Task{
						ID:           uuid.NewString(),
						Subject:      subject,
						Description:  description,
						Owner:        agentID,
						CreatedBy:    agentID,
						ParentTaskID: parent.ID,
						Status:       store.TaskStatusActive,
					})
					if err != nil {
						return errResult("task_add_subtask: %v", err)
					}
					parent.Steps = append(parent.Steps, store.Step{Title: subject, TaskID: child.ID})
					if _, err := stores.Tasks.Update(ctx, parent); err != nil {
						return errResult("task_add_subtask: %v", err)
					}
					data, _ := json.Marshal(child)
					return textResult(string(data))
				},
			},
		},
	}, nil
}
