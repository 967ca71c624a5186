// Package tools holds the closed tool catalog: a static table mapping each
// operation name to its input schema, its auth requirement and its handler.
// Adding or removing a tool is a data-table change, not a control-flow
// change.
package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"marvinmcp/internal/changefeed"
	"marvinmcp/internal/marvin"
)

// Deps carries the per-call collaborators a handler may use. Client is
// constructed per call from the caller's verified credential; it is nil for
// the connectivity carve-out tools when no server-default credential exists.
type Deps struct {
	Client     *marvin.Client
	ChangeFeed *changefeed.Mirror

	// Authenticated reports whether the call carried a verified bearer
	// token. Only the carve-out tools ever see it false.
	Authenticated bool
	// HasDefaultCredential reports whether a server-wide upstream key is
	// configured for the connectivity tools.
	HasDefaultCredential bool
}

// Handler executes one tool call. Upstream failures are reported inside the
// envelope; a returned error means the handler itself misbehaved and is
// mapped to a JSON-RPC internal error by the session layer.
type Handler func(ctx context.Context, deps Deps, args map[string]any) (marvin.Envelope, error)

// Definition is one entry of the catalog.
type Definition struct {
	Name        string
	Description string
	InputSchema mcp.ToolInputSchema
	// RequiresAuth marks tools that need a verified bearer token. The two
	// connectivity tools are carve-outs: they report auth status without
	// touching protected data.
	RequiresAuth bool
	Handler      Handler
}

// Registry is the closed set of callable tools.
type Registry struct {
	defs   []Definition
	byName map[string]*Definition
}

// NewRegistry builds the registry from the static catalog table.
func NewRegistry() *Registry {
	defs := catalog()
	r := &Registry{
		defs:   defs,
		byName: make(map[string]*Definition, len(defs)),
	}
	for i := range r.defs {
		r.byName[r.defs[i].Name] = &r.defs[i]
	}
	return r
}

// List returns the full catalog as MCP tools, regardless of caller identity.
// Authorization is deferred to call time.
func (r *Registry) List() []mcp.Tool {
	tools := make([]mcp.Tool, 0, len(r.defs))
	for _, def := range r.defs {
		tools = append(tools, mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return tools
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return len(r.defs)
}

// objectSchema builds an MCP input schema from property definitions.
func objectSchema(properties map[string]any, required ...string) mcp.ToolInputSchema {
	if properties == nil {
		properties = map[string]any{}
	}
	if required == nil {
		required = []string{}
	}
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// stringArg extracts an optional string argument.
func stringArg(args map[string]any, key string) string {
	value, _ := args[key].(string)
	return value
}

// requireStringArg extracts a mandatory string argument.
func requireStringArg(args map[string]any, key string) (string, error) {
	value := stringArg(args, key)
	if value == "" {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return value, nil
}

// floatArg extracts a numeric argument. JSON numbers decode as float64.
func floatArg(args map[string]any, key string) float64 {
	value, _ := args[key].(float64)
	return value
}

// stringSliceArg extracts a list-of-strings argument.
func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	values := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			values = append(values, s)
		}
	}
	return values
}
