// Package marvin is the resource client for the upstream Marvin task API.
// Reads go through a TTL-bound cache; writes call upstream directly and then
// evict the cache keys they plausibly invalidated. A Client is constructed
// per tool call from the credential carried in the caller's bearer token —
// clients are never shared across requests.
package marvin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"marvinmcp/pkg/logging"
)

const defaultHTTPTimeout = 30 * time.Second

// Client makes authenticated REST calls to the Marvin API on behalf of a
// single credential.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      *Cache
}

// NewClient creates a resource client for one upstream credential. The cache
// may be shared between clients; the credential is not.
func NewClient(apiKey, baseURL string, cache *Cache) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		cache: cache,
	}
}

// doRequest issues one single-shot HTTP request against the upstream API.
// There is no retry loop: a failed call surfaces immediately to the caller,
// which reports it inside the envelope.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Token", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read upstream response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream returned %d for %s %s", resp.StatusCode, method, path)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode upstream response: %w", err)
		}
	}
	return nil
}

// Probe validates the credential with a lightweight authenticated call. Used
// by the authorization flow before a code is minted, and by the connectivity
// tools.
func (c *Client) Probe(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodPost, "/test", map[string]any{}, nil)
}

// NewEnvelope builds a successful envelope around data.
func NewEnvelope(data any, source, message string, count int) Envelope {
	env := Envelope{
		Data: data,
		Metadata: Metadata{
			Source:     source,
			Timestamp:  time.Now().UTC(),
			RequestID:  uuid.NewString(),
			TotalItems: count,
		},
		Summary: Summary{
			Message:   message,
			ItemCount: count,
			Status:    statusOK,
		},
		Success: true,
	}
	return env
}

// NewErrorEnvelope builds a failed envelope carrying message. Tool-level
// failures are reported this way rather than as transport errors.
func NewErrorEnvelope(message string) Envelope {
	return Envelope{
		Metadata: Metadata{
			Source:    SourceAPI,
			Timestamp: time.Now().UTC(),
			RequestID: uuid.NewString(),
		},
		Summary: Summary{
			Message: message,
			Status:  statusError,
		},
		Success: false,
	}
}

// cachedRead serves a read from the cache when possible, otherwise fetches
// upstream and populates the cache. fetch returns the payload and an item
// count for the envelope.
func (c *Client) cachedRead(ctx context.Context, key string, ttl time.Duration, message string, fetch func(ctx context.Context) (any, int, error)) Envelope {
	if payload, ok := c.cache.Get(ctx, key); ok {
		var cached struct {
			Data  any `json:"data"`
			Count int `json:"count"`
		}
		if err := json.Unmarshal([]byte(payload), &cached); err == nil {
			logging.Debug("Marvin", "Cache hit for %s", key)
			return NewEnvelope(cached.Data, SourceCache, message, cached.Count)
		}
		// A corrupt entry falls through to a fresh fetch.
		c.cache.Evict(ctx, key)
	}

	data, count, err := fetch(ctx)
	if err != nil {
		logging.Warn("Marvin", "Read %s failed: %v", key, err)
		return NewErrorEnvelope(err.Error())
	}

	if payload, err := json.Marshal(map[string]any{"data": data, "count": count}); err == nil {
		c.cache.Put(ctx, key, string(payload), ttl)
	}
	return NewEnvelope(data, SourceAPI, message, count)
}

// TestConnection reports upstream connectivity and credential validity. It
// never consults the cache.
func (c *Client) TestConnection(ctx context.Context) Envelope {
	if err := c.Probe(ctx); err != nil {
		return NewErrorEnvelope(fmt.Sprintf("Connection to Marvin failed: %v", err))
	}
	return NewEnvelope(map[string]any{"connected": true}, SourceAPI, "Connection to Marvin API verified", 0)
}

// GetAccount returns account information for the credential.
func (c *Client) GetAccount(ctx context.Context) Envelope {
	return c.cachedRead(ctx, "account", slowCacheTTL, "Account information retrieved", func(ctx context.Context) (any, int, error) {
		var me Item
		if err := c.doRequest(ctx, http.MethodGet, "/me", nil, &me); err != nil {
			return nil, 0, err
		}
		return me, 0, nil
	})
}

// GetTasks returns the items scheduled for today.
func (c *Client) GetTasks(ctx context.Context) Envelope {
	day := today()
	return c.cachedRead(ctx, "tasks:"+day, defaultCacheTTL, "Today's tasks retrieved", func(ctx context.Context) (any, int, error) {
		items, err := c.fetchTodayItems(ctx, day)
		if err != nil {
			return nil, 0, err
		}
		return items, len(items), nil
	})
}

// GetDueItems returns items due today or overdue.
func (c *Client) GetDueItems(ctx context.Context) Envelope {
	day := today()
	return c.cachedRead(ctx, "due_items:"+day, defaultCacheTTL, "Due items retrieved", func(ctx context.Context) (any, int, error) {
		var items []Item
		if err := c.doRequest(ctx, http.MethodGet, "/dueItems?by="+day, nil, &items); err != nil {
			return nil, 0, err
		}
		return items, len(items), nil
	})
}

// GetProjects returns all projects.
func (c *Client) GetProjects(ctx context.Context) Envelope {
	return c.cachedRead(ctx, "projects", defaultCacheTTL, "Projects retrieved", func(ctx context.Context) (any, int, error) {
		items, err := c.fetchCategories(ctx, "project")
		if err != nil {
			return nil, 0, err
		}
		return items, len(items), nil
	})
}

// GetCategories returns all categories.
func (c *Client) GetCategories(ctx context.Context) Envelope {
	return c.cachedRead(ctx, "categories", defaultCacheTTL, "Categories retrieved", func(ctx context.Context) (any, int, error) {
		items, err := c.fetchCategories(ctx, "category")
		if err != nil {
			return nil, 0, err
		}
		return items, len(items), nil
	})
}

// GetLabels returns all labels.
func (c *Client) GetLabels(ctx context.Context) Envelope {
	return c.cachedRead(ctx, "labels", defaultCacheTTL, "Labels retrieved", func(ctx context.Context) (any, int, error) {
		var items []Item
		if err := c.doRequest(ctx, http.MethodGet, "/labels", nil, &items); err != nil {
			return nil, 0, err
		}
		return items, len(items), nil
	})
}

// GetGoals returns all goals.
func (c *Client) GetGoals(ctx context.Context) Envelope {
	return c.cachedRead(ctx, "goals", slowCacheTTL, "Goals retrieved", func(ctx context.Context) (any, int, error) {
		var items []Item
		if err := c.doRequest(ctx, http.MethodGet, "/goals", nil, &items); err != nil {
			return nil, 0, err
		}
		return items, len(items), nil
	})
}

// GetChildTasks returns the subtasks of a parent task or project.
func (c *Client) GetChildTasks(ctx context.Context, parentID string) Envelope {
	return c.cachedRead(ctx, "children:"+parentID, defaultCacheTTL, "Child tasks retrieved", func(ctx context.Context) (any, int, error) {
		var items []Item
		if err := c.doRequest(ctx, http.MethodGet, "/children?parentId="+parentID, nil, &items); err != nil {
			return nil, 0, err
		}
		return items, len(items), nil
	})
}

// GetAllTasks composes today's items with the project, category and label
// trees. The four upstream reads are independent, so they are issued
// concurrently and joined before the response is assembled.
func (c *Client) GetAllTasks(ctx context.Context) Envelope {
	day := today()
	return c.cachedRead(ctx, "all_tasks:"+day, defaultCacheTTL, "Tasks with full context retrieved", func(ctx context.Context) (any, int, error) {
		var (
			tasks, projects, categories, labels []Item
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			tasks, err = c.fetchTodayItems(gctx, day)
			return err
		})
		g.Go(func() error {
			var err error
			projects, err = c.fetchCategories(gctx, "project")
			return err
		})
		g.Go(func() error {
			var err error
			categories, err = c.fetchCategories(gctx, "category")
			return err
		})
		g.Go(func() error {
			return c.doRequest(gctx, http.MethodGet, "/labels", nil, &labels)
		})
		if err := g.Wait(); err != nil {
			return nil, 0, err
		}
		composed := map[string]any{
			"tasks":      tasks,
			"projects":   projects,
			"categories": categories,
			"labels":     labels,
		}
		return composed, len(tasks), nil
	})
}

// GetDailyProductivityOverview joins today's schedule, due items and goals
// into a single planning snapshot.
func (c *Client) GetDailyProductivityOverview(ctx context.Context) Envelope {
	day := today()
	return c.cachedRead(ctx, "overview:"+day, defaultCacheTTL, "Daily productivity overview assembled", func(ctx context.Context) (any, int, error) {
		var (
			tasks, due, goals []Item
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			tasks, err = c.fetchTodayItems(gctx, day)
			return err
		})
		g.Go(func() error {
			return c.doRequest(gctx, http.MethodGet, "/dueItems?by="+day, nil, &due)
		})
		g.Go(func() error {
			return c.doRequest(gctx, http.MethodGet, "/goals", nil, &goals)
		})
		if err := g.Wait(); err != nil {
			return nil, 0, err
		}
		done := 0
		for _, t := range tasks {
			if isDone, _ := t["done"].(bool); isDone {
				done++
			}
		}
		overview := map[string]any{
			"date":            day,
			"today_tasks":     tasks,
			"due_items":       due,
			"goals":           goals,
			"tasks_total":     len(tasks),
			"tasks_completed": done,
		}
		return overview, len(tasks), nil
	})
}

// CreateTask creates a single task and evicts the affected cache keys.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) Envelope {
	if req.Title == "" {
		return NewErrorEnvelope("task title is required")
	}
	if req.Day == "" {
		req.Day = today()
	}
	var created Item
	if err := c.doRequest(ctx, http.MethodPost, "/addTask", req, &created); err != nil {
		return NewErrorEnvelope(fmt.Sprintf("Failed to create task: %v", err))
	}
	c.cache.Evict(ctx, taskWriteEvictions()...)
	return NewEnvelope(created, SourceAPI, fmt.Sprintf("Created task %q", req.Title), 1)
}

// MarkDone marks a task as completed.
func (c *Client) MarkDone(ctx context.Context, itemID string) Envelope {
	if itemID == "" {
		return NewErrorEnvelope("item id is required")
	}
	var updated Item
	body := map[string]any{"itemId": itemID, "timeZoneOffset": 0}
	if err := c.doRequest(ctx, http.MethodPost, "/markDone", body, &updated); err != nil {
		return NewErrorEnvelope(fmt.Sprintf("Failed to mark task done: %v", err))
	}
	c.cache.Evict(ctx, taskWriteEvictions()...)
	return NewEnvelope(updated, SourceAPI, "Task marked done", 1)
}

// CreateProject creates a project and evicts the affected cache keys.
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) Envelope {
	if req.Title == "" {
		return NewErrorEnvelope("project title is required")
	}
	var created Item
	if err := c.doRequest(ctx, http.MethodPost, "/addProject", req, &created); err != nil {
		return NewErrorEnvelope(fmt.Sprintf("Failed to create project: %v", err))
	}
	c.cache.Evict(ctx, projectWriteEvictions()...)
	return NewEnvelope(created, SourceAPI, fmt.Sprintf("Created project %q", req.Title), 1)
}

// BatchCreateTasks creates every task concurrently and reports a per-item
// outcome. A failing item never aborts its siblings, so a plain WaitGroup is
// used rather than an errgroup.
func (c *Client) BatchCreateTasks(ctx context.Context, reqs []CreateTaskRequest) Envelope {
	if len(reqs) == 0 {
		return NewErrorEnvelope("batch contains no tasks")
	}

	results := make([]BatchItemResult, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req CreateTaskRequest) {
			defer wg.Done()
			result := BatchItemResult{Index: i, Title: req.Title}
			if req.Title == "" {
				result.Error = "task title is required"
				results[i] = result
				return
			}
			if req.Day == "" {
				req.Day = today()
			}
			var created Item
			if err := c.doRequest(ctx, http.MethodPost, "/addTask", req, &created); err != nil {
				result.Error = err.Error()
			} else {
				result.Success = true
				result.Item = created
			}
			results[i] = result
		}(i, req)
	}
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	c.cache.Evict(ctx, taskWriteEvictions()...)

	env := NewEnvelope(results, SourceAPI,
		fmt.Sprintf("Created %d of %d tasks", succeeded, len(reqs)), len(reqs))
	if succeeded < len(reqs) {
		env.Summary.Status = statusError
	}
	// The batch as a whole succeeded if it ran; per-item failures live in the
	// result list.
	return env
}

// StartTimeTracking starts the timer on a task.
func (c *Client) StartTimeTracking(ctx context.Context, taskID string) Envelope {
	return c.track(ctx, taskID, "START")
}

// StopTimeTracking stops the timer on a task.
func (c *Client) StopTimeTracking(ctx context.Context, taskID string) Envelope {
	return c.track(ctx, taskID, "STOP")
}

func (c *Client) track(ctx context.Context, taskID, action string) Envelope {
	if taskID == "" {
		return NewErrorEnvelope("task id is required")
	}
	var result Item
	body := map[string]any{"taskId": taskID, "action": action}
	if err := c.doRequest(ctx, http.MethodPost, "/time", body, &result); err != nil {
		return NewErrorEnvelope(fmt.Sprintf("Failed to %s time tracking: %v", action, err))
	}
	c.cache.Evict(ctx, "time_tracks:"+taskID)
	return NewEnvelope(result, SourceAPI, fmt.Sprintf("Time tracking %s for task %s", action, taskID), 1)
}

// GetTimeTracks returns time tracking records for the given tasks.
func (c *Client) GetTimeTracks(ctx context.Context, taskIDs []string) Envelope {
	if len(taskIDs) == 0 {
		return NewErrorEnvelope("at least one task id is required")
	}
	var tracks map[string]any
	body := map[string]any{"taskIds": taskIDs}
	if err := c.doRequest(ctx, http.MethodPost, "/tracks", body, &tracks); err != nil {
		return NewErrorEnvelope(fmt.Sprintf("Failed to fetch time tracks: %v", err))
	}
	return NewEnvelope(tracks, SourceAPI, "Time tracks retrieved", len(taskIDs))
}

// ClaimRewardPoints claims reward points for a completed item.
func (c *Client) ClaimRewardPoints(ctx context.Context, points float64, itemID, date string) Envelope {
	if itemID == "" {
		return NewErrorEnvelope("item id is required")
	}
	if date == "" {
		date = today()
	}
	var result Item
	body := map[string]any{"points": points, "itemId": itemID, "date": date}
	if err := c.doRequest(ctx, http.MethodPost, "/claimRewardPoints", body, &result); err != nil {
		return NewErrorEnvelope(fmt.Sprintf("Failed to claim reward points: %v", err))
	}
	return NewEnvelope(result, SourceAPI, fmt.Sprintf("Claimed %.0f reward points", points), 1)
}

func (c *Client) fetchTodayItems(ctx context.Context, day string) ([]Item, error) {
	var items []Item
	if err := c.doRequest(ctx, http.MethodGet, "/todayItems?date="+day, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// fetchCategories returns the category tree filtered by Marvin document
// type: projects and categories share one upstream collection.
func (c *Client) fetchCategories(ctx context.Context, docType string) ([]Item, error) {
	var all []Item
	if err := c.doRequest(ctx, http.MethodGet, "/categories", nil, &all); err != nil {
		return nil, err
	}
	filtered := make([]Item, 0, len(all))
	for _, item := range all {
		if t, _ := item["type"].(string); t == docType {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}
