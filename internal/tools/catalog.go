package tools

import (
	"context"
	"fmt"

	"marvinmcp/internal/marvin"
)

// catalog is the static tool table. Handlers assume the session layer has
// already enforced RequiresAuth and constructed a client when one is due.
func catalog() []Definition {
	return []Definition{
		{
			Name:        "test_connection",
			Description: "Test connectivity and credential validity against the Marvin API. Works without a bearer token when a server-default credential is configured.",
			InputSchema: objectSchema(nil),
			Handler: func(ctx context.Context, deps Deps, _ map[string]any) (marvin.Envelope, error) {
				if deps.Client == nil {
					return marvin.NewErrorEnvelope("no upstream credential available: authenticate or configure MARVIN_API_KEY"), nil
				}
				return deps.Client.TestConnection(ctx), nil
			},
		},
		{
			Name:        "get_auth_status",
			Description: "Report authentication status for this call: whether a bearer token was verified and whether a server-default credential exists.",
			InputSchema: objectSchema(nil),
			Handler: func(_ context.Context, deps Deps, _ map[string]any) (marvin.Envelope, error) {
				status := map[string]any{
					"authenticated":      deps.Authenticated,
					"default_credential": deps.HasDefaultCredential,
				}
				message := "Not authenticated: complete the OAuth flow to access protected tools"
				if deps.Authenticated {
					message = "Authenticated via bearer token"
				}
				return marvin.NewEnvelope(status, marvin.SourceAPI, message, 0), nil
			},
		},
		{
			Name:         "get_tasks",
			Description:  "Get the tasks scheduled for today.",
			InputSchema:  objectSchema(nil),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, _ map[string]any) (marvin.Envelope, error) {
				return deps.Client.GetTasks(ctx), nil
			},
		},
		{
			Name:         "get_due_items",
			Description:  "Get items that are due today or overdue.",
			InputSchema:  objectSchema(nil),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, _ map[string]any) (marvin.Envelope, error) {
				return deps.Client.GetDueItems(ctx), nil
			},
		},
		{
			Name:         "get_projects",
			Description:  "Get all projects.",
			InputSchema:  objectSchema(nil),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, _ map[string]any) (marvin.Envelope, error) {
				return deps.Client.GetProjects(ctx), nil
			},
		},
		{
			Name:         "get_categories",
			Description:  "Get all categories.",
			InputSchema:  objectSchema(nil),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, _ map[string]any) (marvin.Envelope, error) {
				return deps.Client.GetCategories(ctx), nil
			},
		},
		{
			Name:         "get_labels",
			Description:  "Get all labels.",
			InputSchema:  objectSchema(nil),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, _ map[string]any) (marvin.Envelope, error) {
				return deps.Client.GetLabels(ctx), nil
			},
		},
		{
			Name:         "get_goals",
			Description:  "Get all goals.",
			InputSchema:  objectSchema(nil),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, _ map[string]any) (marvin.Envelope, error) {
				return deps.Client.GetGoals(ctx), nil
			},
		},
		{
			Name:         "get_account_info",
			Description:  "Get account information for the authenticated user.",
			InputSchema:  objectSchema(nil),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, _ map[string]any) (marvin.Envelope, error) {
				return deps.Client.GetAccount(ctx), nil
			},
		},
		{
			Name:        "get_child_tasks",
			Description: "Get the subtasks of a parent task or project.",
			InputSchema: objectSchema(map[string]any{
				"parent_id": prop("string", "ID of the parent task or project"),
			}, "parent_id"),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, args map[string]any) (marvin.Envelope, error) {
				parentID, err := requireStringArg(args, "parent_id")
				if err != nil {
					return marvin.NewErrorEnvelope(err.Error()), nil
				}
				return deps.Client.GetChildTasks(ctx, parentID), nil
			},
		},
		{
			Name:         "get_all_tasks",
			Description:  "Get today's tasks together with the full project, category and label context.",
			InputSchema:  objectSchema(nil),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, _ map[string]any) (marvin.Envelope, error) {
				return deps.Client.GetAllTasks(ctx), nil
			},
		},
		{
			Name:         "get_daily_productivity_overview",
			Description:  "Get a combined snapshot of today's schedule, due items and goals.",
			InputSchema:  objectSchema(nil),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, _ map[string]any) (marvin.Envelope, error) {
				return deps.Client.GetDailyProductivityOverview(ctx), nil
			},
		},
		{
			Name:        "create_task",
			Description: "Create a new task.",
			InputSchema: objectSchema(map[string]any{
				"title":         prop("string", "Task title"),
				"day":           prop("string", "Day to schedule the task (YYYY-MM-DD, default today)"),
				"due_date":      prop("string", "Due date (YYYY-MM-DD)"),
				"parent_id":     prop("string", "Parent project or category ID"),
				"note":          prop("string", "Task note"),
				"time_estimate": prop("number", "Time estimate in milliseconds"),
				"label_ids":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Label IDs to attach"},
			}, "title"),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, args map[string]any) (marvin.Envelope, error) {
				title, err := requireStringArg(args, "title")
				if err != nil {
					return marvin.NewErrorEnvelope(err.Error()), nil
				}
				req := marvin.CreateTaskRequest{
					Title:        title,
					Day:          stringArg(args, "day"),
					DueDate:      stringArg(args, "due_date"),
					ParentID:     stringArg(args, "parent_id"),
					Note:         stringArg(args, "note"),
					TimeEstimate: int64(floatArg(args, "time_estimate")),
					LabelIDs:     stringSliceArg(args, "label_ids"),
				}
				return deps.Client.CreateTask(ctx, req), nil
			},
		},
		{
			Name:        "mark_task_done",
			Description: "Mark a task as completed.",
			InputSchema: objectSchema(map[string]any{
				"item_id": prop("string", "ID of the task to complete"),
			}, "item_id"),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, args map[string]any) (marvin.Envelope, error) {
				itemID, err := requireStringArg(args, "item_id")
				if err != nil {
					return marvin.NewErrorEnvelope(err.Error()), nil
				}
				return deps.Client.MarkDone(ctx, itemID), nil
			},
		},
		{
			Name:        "create_project",
			Description: "Create a new project.",
			InputSchema: objectSchema(map[string]any{
				"title":     prop("string", "Project title"),
				"parent_id": prop("string", "Parent category ID"),
				"note":      prop("string", "Project note"),
			}, "title"),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, args map[string]any) (marvin.Envelope, error) {
				title, err := requireStringArg(args, "title")
				if err != nil {
					return marvin.NewErrorEnvelope(err.Error()), nil
				}
				req := marvin.CreateProjectRequest{
					Title:    title,
					ParentID: stringArg(args, "parent_id"),
					Note:     stringArg(args, "note"),
				}
				return deps.Client.CreateProject(ctx, req), nil
			},
		},
		{
			Name:        "batch_create_tasks",
			Description: "Create several tasks in one call. Items succeed or fail independently.",
			InputSchema: objectSchema(map[string]any{
				"tasks": map[string]any{
					"type":        "array",
					"description": "Tasks to create",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"title":     prop("string", "Task title"),
							"day":       prop("string", "Day to schedule the task"),
							"due_date":  prop("string", "Due date"),
							"parent_id": prop("string", "Parent project or category ID"),
							"note":      prop("string", "Task note"),
						},
						"required": []string{"title"},
					},
				},
			}, "tasks"),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, args map[string]any) (marvin.Envelope, error) {
				reqs, err := decodeTaskList(args["tasks"])
				if err != nil {
					return marvin.NewErrorEnvelope(err.Error()), nil
				}
				return deps.Client.BatchCreateTasks(ctx, reqs), nil
			},
		},
		{
			Name:        "start_time_tracking",
			Description: "Start the timer on a task.",
			InputSchema: objectSchema(map[string]any{
				"task_id": prop("string", "ID of the task to track"),
			}, "task_id"),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, args map[string]any) (marvin.Envelope, error) {
				taskID, err := requireStringArg(args, "task_id")
				if err != nil {
					return marvin.NewErrorEnvelope(err.Error()), nil
				}
				return deps.Client.StartTimeTracking(ctx, taskID), nil
			},
		},
		{
			Name:        "stop_time_tracking",
			Description: "Stop the timer on a task.",
			InputSchema: objectSchema(map[string]any{
				"task_id": prop("string", "ID of the task being tracked"),
			}, "task_id"),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, args map[string]any) (marvin.Envelope, error) {
				taskID, err := requireStringArg(args, "task_id")
				if err != nil {
					return marvin.NewErrorEnvelope(err.Error()), nil
				}
				return deps.Client.StopTimeTracking(ctx, taskID), nil
			},
		},
		{
			Name:        "get_time_tracks",
			Description: "Get time tracking records for a set of tasks.",
			InputSchema: objectSchema(map[string]any{
				"task_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Task IDs to fetch tracks for"},
			}, "task_ids"),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, args map[string]any) (marvin.Envelope, error) {
				taskIDs := stringSliceArg(args, "task_ids")
				return deps.Client.GetTimeTracks(ctx, taskIDs), nil
			},
		},
		{
			Name:        "claim_reward_points",
			Description: "Claim reward points for a completed item.",
			InputSchema: objectSchema(map[string]any{
				"points":  prop("number", "Number of points to claim"),
				"item_id": prop("string", "ID of the completed item"),
				"date":    prop("string", "Date of completion (default today)"),
			}, "points", "item_id"),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, args map[string]any) (marvin.Envelope, error) {
				itemID, err := requireStringArg(args, "item_id")
				if err != nil {
					return marvin.NewErrorEnvelope(err.Error()), nil
				}
				return deps.Client.ClaimRewardPoints(ctx, floatArg(args, "points"), itemID, stringArg(args, "date")), nil
			},
		},
		{
			Name:        "delete_task",
			Description: "Delete a task via the change-feed mirror. Requires the change-feed database to be configured.",
			InputSchema: objectSchema(map[string]any{
				"item_id": prop("string", "ID of the task to delete"),
			}, "item_id"),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, args map[string]any) (marvin.Envelope, error) {
				if deps.ChangeFeed == nil {
					return marvin.NewErrorEnvelope("change-feed database is not configured"), nil
				}
				itemID, err := requireStringArg(args, "item_id")
				if err != nil {
					return marvin.NewErrorEnvelope(err.Error()), nil
				}
				if err := deps.ChangeFeed.DeleteTask(ctx, itemID); err != nil {
					return marvin.NewErrorEnvelope(err.Error()), nil
				}
				return marvin.NewEnvelope(map[string]any{"item_id": itemID, "deleted": true},
					marvin.SourceChangeFeed, "Task deletion recorded", 1), nil
			},
		},
		{
			Name:        "create_calendar_event",
			Description: "Create a calendar event via the change-feed mirror. Requires the change-feed database to be configured.",
			InputSchema: objectSchema(map[string]any{
				"title":            prop("string", "Event title"),
				"start":            prop("string", "Start time (RFC 3339)"),
				"duration_minutes": prop("number", "Duration in minutes"),
			}, "title", "start"),
			RequiresAuth: true,
			Handler: func(ctx context.Context, deps Deps, args map[string]any) (marvin.Envelope, error) {
				if deps.ChangeFeed == nil {
					return marvin.NewErrorEnvelope("change-feed database is not configured"), nil
				}
				title, err := requireStringArg(args, "title")
				if err != nil {
					return marvin.NewErrorEnvelope(err.Error()), nil
				}
				start, err := requireStringArg(args, "start")
				if err != nil {
					return marvin.NewErrorEnvelope(err.Error()), nil
				}
				duration := int(floatArg(args, "duration_minutes"))
				if err := deps.ChangeFeed.CreateCalendarEvent(ctx, title, start, duration); err != nil {
					return marvin.NewErrorEnvelope(err.Error()), nil
				}
				return marvin.NewEnvelope(map[string]any{"title": title, "start": start, "duration_minutes": duration},
					marvin.SourceChangeFeed, fmt.Sprintf("Calendar event %q recorded", title), 1), nil
			},
		},
	}
}

// decodeTaskList converts the raw JSON argument list into typed requests.
// Argument keys use the tool-facing snake_case names, not the upstream wire
// names, so each item is mapped explicitly.
func decodeTaskList(raw any) ([]marvin.CreateTaskRequest, error) {
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("tasks argument must be a non-empty array")
	}
	reqs := make([]marvin.CreateTaskRequest, 0, len(items))
	for i, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tasks[%d] must be an object", i)
		}
		reqs = append(reqs, marvin.CreateTaskRequest{
			Title:    stringArg(fields, "title"),
			Day:      stringArg(fields, "day"),
			DueDate:  stringArg(fields, "due_date"),
			ParentID: stringArg(fields, "parent_id"),
			Note:     stringArg(fields, "note"),
			LabelIDs: stringSliceArg(fields, "label_ids"),
		})
	}
	return reqs, nil
}
