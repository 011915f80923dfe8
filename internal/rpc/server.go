// Package rpc exposes the memory engine over stdio JSON-RPC 2.0 so
// editors and desktop shells can capture thoughts and pull suggestions
// without linking against the engine.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/memory"
)

const protocolVersion = "2024-11-05"

// Server dispatches JSON-RPC requests, one JSON object per line.
type Server struct {
	store   *memory.Store
	dedup   *memory.Deduplicator
	ambient *memory.AmbientEngine
	logger  *zap.Logger

	in  io.Reader
	out io.Writer
}

func NewServer(store *memory.Store, dedup *memory.Deduplicator, ambient *memory.AmbientEngine, in io.Reader, out io.Writer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: store, dedup: dedup, ambient: ambient, in: in, out: out, logger: logger}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Run reads requests until EOF. Notifications (no id) get no response.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.reply(response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "parse error"}})
			continue
		}

		resp := s.handle(ctx, &req)
		if req.ID == nil {
			continue
		}
		resp.ID = req.ID
		s.reply(resp)
	}
	return scanner.Err()
}

func (s *Server) reply(resp response) {
	resp.JSONRPC = "2.0"
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", zap.Error(err))
		return
	}
	fmt.Fprintf(s.out, "%s\n", data)
}

func (s *Server) handle(ctx context.Context, req *request) response {
	switch req.Method {
	case "initialize":
		return result(map[string]any{
			"protocolVersion": protocolVersion,
			"serverInfo":      map[string]string{"name": "engram", "version": "1.0.0"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		})
	case "tools/list":
		return result(map[string]any{"tools": toolSchemas()})
	case "tools/call":
		return s.handleToolCall(ctx, req.Params)
	case "ping":
		return result(map[string]any{})
	default:
		return errResult(codeMethodNotFound, "method not found: "+req.Method)
	}
}

func result(v any) response {
	return response{Result: v}
}

func errResult(code int, msg string) response {
	return response{Error: &rpcError{Code: code, Message: msg}}
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (s *Server) handleToolCall(ctx context.Context, params json.RawMessage) response {
	var call toolCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return errResult(codeInvalidParams, "invalid tool call params")
	}

	var (
		out any
		err error
	)
	switch call.Name {
	case "capture":
		out, err = s.capture(ctx, call.Arguments)
	case "suggest":
		out, err = s.suggest(ctx, call.Arguments)
	case "feedback":
		out, err = s.feedback(ctx, call.Arguments)
	case "entities":
		out, err = s.entities(ctx, call.Arguments)
	case "graph":
		out, err = s.graph(ctx, call.Arguments)
	case "stats":
		out, err = s.stats(ctx)
	default:
		return errResult(codeInvalidParams, "unknown tool: "+call.Name)
	}
	if err != nil {
		s.logger.Warn("tool call failed", zap.String("tool", call.Name), zap.Error(err))
		return errResult(codeInternalError, err.Error())
	}
	return result(toolText(out))
}

// toolText wraps tool output the way stdio tool hosts expect: a content
// array with one JSON text blob.
func toolText(v any) map[string]any {
	data, _ := json.Marshal(v)
	return map[string]any{
		"content": []map[string]string{{"type": "text", "text": string(data)}},
	}
}

type captureArgs struct {
	Content    string   `json:"content"`
	Kind       string   `json:"kind,omitempty"`
	Topic      string   `json:"topic,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Importance float64  `json:"importance,omitempty"`
}

func (s *Server) capture(ctx context.Context, raw json.RawMessage) (any, error) {
	var args captureArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid capture arguments: %w", err)
	}
	if strings.TrimSpace(args.Content) == "" {
		return nil, fmt.Errorf("content is required")
	}

	kind := memory.Kind(args.Kind)
	switch kind {
	case memory.KindFact, memory.KindFeeling, memory.KindGoal:
	default:
		kind = memory.KindFact
	}

	saved, err := s.dedup.SaveWithDedup(ctx, memory.CaptureInput{
		Content:    args.Content,
		Kind:       kind,
		Topic:      args.Topic,
		Hashtags:   args.Tags,
		Importance: args.Importance,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"action":     string(saved.Action),
		"record_id":  saved.RecordID,
		"similarity": saved.Similarity,
		"message":    saved.Message,
	}, nil
}

type suggestArgs struct {
	Text string `json:"text"`
	Tier string `json:"tier,omitempty"`
}

func (s *Server) suggest(ctx context.Context, raw json.RawMessage) (any, error) {
	var args suggestArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid suggest arguments: %w", err)
	}
	if args.Tier != "" {
		s.ambient.SetTier(memory.PerformanceTier(args.Tier))
	}
	preds, err := s.ambient.Suggest(ctx, args.Text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"predictions": preds}, nil
}

type feedbackArgs struct {
	NodeID string `json:"node_id"`
	Action string `json:"action"`
}

func (s *Server) feedback(ctx context.Context, raw json.RawMessage) (any, error) {
	var args feedbackArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid feedback arguments: %w", err)
	}
	action := memory.FeedbackAction(args.Action)
	switch action {
	case memory.FeedbackAccepted, memory.FeedbackRejected, memory.FeedbackIgnored:
	default:
		return nil, fmt.Errorf("unknown feedback action %q", args.Action)
	}
	if err := s.ambient.RecordFeedback(ctx, args.NodeID, action); err != nil {
		return nil, err
	}
	return map[string]any{"recorded": true}, nil
}

type entitiesArgs struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Server) entities(ctx context.Context, raw json.RawMessage) (any, error) {
	args := entitiesArgs{Limit: 20}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid entities arguments: %w", err)
		}
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}
	entities, err := s.store.ListEntities(ctx, args.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entities": entities}, nil
}

type graphArgs struct {
	RecordID string `json:"record_id"`
}

func (s *Server) graph(ctx context.Context, raw json.RawMessage) (any, error) {
	var args graphArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid graph arguments: %w", err)
	}
	rec, err := s.store.GetRecord(ctx, args.RecordID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("record %s not found", args.RecordID)
	}
	edges, err := s.store.EdgesFrom(ctx, args.RecordID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"record": rec, "edges": edges}, nil
}

func (s *Server) stats(ctx context.Context) (any, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	size, _ := s.store.Size()
	return map[string]any{
		"records": count,
		"db_size": size,
		"tier":    string(s.ambient.Tier()),
	}, nil
}

func toolSchemas() []map[string]any {
	obj := func(props map[string]any, required ...string) map[string]any {
		schema := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}
	str := map[string]any{"type": "string"}
	num := map[string]any{"type": "number"}

	return []map[string]any{
		{
			"name":        "capture",
			"description": "Save a thought; duplicates are merged automatically",
			"inputSchema": obj(map[string]any{
				"content":    str,
				"kind":       map[string]any{"type": "string", "enum": []string{"fact", "feeling", "goal"}},
				"topic":      str,
				"tags":       map[string]any{"type": "array", "items": str},
				"importance": num,
			}, "content"),
		},
		{
			"name":        "suggest",
			"description": "Get memory suggestions relevant to the given text",
			"inputSchema": obj(map[string]any{
				"text": str,
				"tier": map[string]any{"type": "string", "enum": []string{"premium", "standard", "eco"}},
			}, "text"),
		},
		{
			"name":        "feedback",
			"description": "Record accept/reject/ignore feedback on a suggestion",
			"inputSchema": obj(map[string]any{
				"node_id": str,
				"action":  map[string]any{"type": "string", "enum": []string{"accepted", "rejected", "ignored"}},
			}, "node_id", "action"),
		},
		{
			"name":        "entities",
			"description": "List linked entities by mention count",
			"inputSchema": obj(map[string]any{"limit": num}),
		},
		{
			"name":        "graph",
			"description": "Show a record and its semantic edges",
			"inputSchema": obj(map[string]any{"record_id": str}, "record_id"),
		},
		{
			"name":        "stats",
			"description": "Engine statistics",
			"inputSchema": obj(map[string]any{}),
		},
	}
}
