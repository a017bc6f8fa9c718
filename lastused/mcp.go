package lastused

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers lastused tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerLookupTool(srv)
	e.registerListTool(srv)
	e.registerClearTool(srv)
	e.registerClearAllTool(srv)
	e.registerInspectTool(srv)
	e.registerSessionsTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// addTool decodes arguments into a fresh T, runs fn and returns its result
// as JSON text. Failures become tool errors.
func addTool[T any](srv *mcp.Server, tool *mcp.Tool, fn func(context.Context, *T) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args T
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		resp, err := fn(ctx, &args)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- lookup ---

type domainRequest struct {
	Domain string `json:"domain"`
}

func (e *Engine) registerLookupTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lastused_lookup",
		Description: "Return the login provider last used on a site.",
		InputSchema: inputSchema(map[string]any{
			"domain": map[string]any{"type": "string", "description": "Domain or URL (www. is ignored)"},
		}, []string{"domain"}),
	}
	addTool(srv, tool, func(ctx context.Context, r *domainRequest) (any, error) {
		if r.Domain == "" {
			return nil, errors.New("domain is required")
		}
		p, ok, err := e.Lookup(ctx, r.Domain)
		if err != nil {
			return nil, err
		}
		return map[string]any{"found": ok, "provider": p}, nil
	})
}

// --- list ---

type listRequest struct {
	Query string `json:"query,omitempty"`
}

func (e *Engine) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lastused_list",
		Description: "List remembered sites sorted by domain, optionally filtered by domain or provider.",
		InputSchema: inputSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Case-insensitive filter on domain or provider"},
		}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, r *listRequest) (any, error) {
		return e.popup.Build(ctx, "", r.Query)
	})
}

// --- clear ---

func (e *Engine) registerClearTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lastused_clear",
		Description: "Forget the remembered login for one site.",
		InputSchema: inputSchema(map[string]any{
			"domain": map[string]any{"type": "string", "description": "Domain or URL"},
		}, []string{"domain"}),
	}
	addTool(srv, tool, func(ctx context.Context, r *domainRequest) (any, error) {
		if r.Domain == "" {
			return nil, errors.New("domain is required")
		}
		if err := e.Forget(ctx, r.Domain); err != nil {
			return nil, err
		}
		return map[string]any{"success": true}, nil
	})
}

// --- clear_all ---

type emptyRequest struct{}

func (e *Engine) registerClearAllTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lastused_clear_all",
		Description: "Forget every remembered login. This cannot be undone.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, _ *emptyRequest) (any, error) {
		n, err := e.ForgetAll(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "removed": n}, nil
	})
}

// --- inspect ---

type inspectRequest struct {
	URL string `json:"url"`
}

func (e *Engine) registerInspectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lastused_inspect",
		Description: "Fetch a page over HTTP and list its third-party login buttons, flagging the last used one.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL"},
		}, []string{"url"}),
	}
	addTool(srv, tool, func(ctx context.Context, r *inspectRequest) (any, error) {
		if r.URL == "" {
			return nil, errors.New("url is required")
		}
		return e.Inspect(ctx, r.URL)
	})
}

// --- sessions ---

func (e *Engine) registerSessionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lastused_sessions",
		Description: "List observed pages with their scan counters.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, _ *emptyRequest) (any, error) {
		out := []map[string]any{}
		for _, id := range e.Sessions() {
			sess, ok := e.Session(id)
			if !ok {
				continue
			}
			st, err := sess.Stats(ctx)
			if err != nil {
				continue
			}
			out = append(out, map[string]any{"id": id, "url": sess.URL(), "stats": st})
		}
		return out, nil
	})
}
