package mcpserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rcliao/memkeeper/internal/model"
	"github.com/rcliao/memkeeper/internal/search"
	"github.com/rcliao/memkeeper/internal/store"
)

func writeTool() mcp.Tool {
	return mcp.NewTool("memory_write",
		mcp.WithDescription("Store a memory. Writing an existing id appends a new revision."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Memory text")),
		mcp.WithString("id", mcp.Description("Record id; omitted to create a new record")),
		mcp.WithString("summary", mcp.Description("One-line summary")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Tags")),
		mcp.WithString("memory_type", mcp.Enum(memoryTypeNames()...), mcp.Description("Memory type, default fact")),
		mcp.WithNumber("importance", mcp.Min(0), mcp.Max(1), mcp.Description("Importance in [0,1]; omitted uses the type default")),
		mcp.WithBoolean("is_identity", mcp.Description("Exempt from lifecycle maintenance")),
		mcp.WithString("source", mcp.Description("Where the memory came from")),
		mcp.WithArray("relations", mcp.Description("Outbound edges to existing records"), mcp.Items(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"target_id": map[string]any{"type": "string"},
				"kind":      map[string]any{"type": "string"},
				"weight":    map[string]any{"type": "number"},
			},
			"required": []string{"target_id"},
		})),
	)
}

func readTool() mcp.Tool {
	return mcp.NewTool("memory_read",
		mcp.WithDescription("Read the latest revision of a memory, or its full history."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
		mcp.WithBoolean("history", mcp.Description("Return every revision, newest first")),
	)
}

func searchTool() mcp.Tool {
	return mcp.NewTool("memory_search",
		mcp.WithDescription("Rank active memories by relevance, importance, and connectivity."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		mcp.WithNumber("limit", mcp.Description("Max results, default 10")),
		mcp.WithString("memory_type", mcp.Enum(memoryTypeNames()...), mcp.Description("Filter by memory type")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Require all tags")),
	)
}

func relateTool() mcp.Tool {
	return mcp.NewTool("memory_relate",
		mcp.WithDescription("Create or remove a weighted edge between two active memories."),
		mcp.WithString("from_id", mcp.Required()),
		mcp.WithString("to_id", mcp.Required()),
		mcp.WithString("kind", mcp.Description("relates_to, depends_on, supports, blocks, references")),
		mcp.WithNumber("weight", mcp.Min(0), mcp.Max(1), mcp.Description("Edge weight, default 1")),
		mcp.WithBoolean("remove", mcp.Description("Remove the edge instead")),
	)
}

func forgetTool() mcp.Tool {
	return mcp.NewTool("memory_forget",
		mcp.WithDescription("Soft-delete a memory. History is kept."),
		mcp.WithString("id", mcp.Required()),
		mcp.WithString("reason", mcp.Description("Deletion reason, default manual"),
			mcp.Enum(model.DeletedManual, model.DeletedPruned, model.DeletedOrphaned, model.DeletedDuplicate)),
	)
}

func maintainTool() mcp.Tool {
	return mcp.NewTool("memory_maintain",
		mcp.WithDescription("Run a lifecycle pass: decay importance, prune, clean orphans and duplicates. Omitted fields use the configured policy."),
		mcp.WithNumber("decay_rate", mcp.Min(0), mcp.Max(1)),
		mcp.WithNumber("prune_floor", mcp.Min(0), mcp.Max(1)),
		mcp.WithNumber("orphan_importance_threshold", mcp.Min(0), mcp.Max(1)),
		mcp.WithBoolean("enable_orphan_cleanup"),
		mcp.WithBoolean("enable_duplicate_cleanup"),
		mcp.WithNumber("duplicate_similarity_threshold", mcp.Min(0), mcp.Max(1)),
		mcp.WithString("stale_after", mcp.Description("Go duration, e.g. 24h; 0 decays every record")),
	)
}

func memoryTypeNames() []string {
	names := make([]string, 0, len(model.MemoryTypes))
	for _, t := range model.MemoryTypes {
		names = append(names, string(t))
	}
	return names
}

func (s *Server) handleWrite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return s.jsonResult("memory_write", nil, err)
	}
	args := req.GetArguments()

	p := store.WriteParams{
		ID:         req.GetString("id", ""),
		Content:    content,
		Summary:    req.GetString("summary", ""),
		Tags:       req.GetStringSlice("tags", nil),
		MemoryType: model.MemoryType(req.GetString("memory_type", "")),
		IsIdentity: req.GetBool("is_identity", false),
		Source:     req.GetString("source", ""),
	}
	if raw, ok := args["importance"]; ok {
		imp, err := numberArg(raw)
		if err != nil {
			return s.jsonResult("memory_write", nil, goerr.Wrap(store.ErrInvalidRecord, "importance must be a number", goerr.V("importance", raw)))
		}
		p.Importance = &imp
	}
	if raw, ok := args["relations"]; ok {
		b, err := json.Marshal(raw)
		if err == nil {
			err = json.Unmarshal(b, &p.Relations)
		}
		if err != nil {
			return s.jsonResult("memory_write", nil, goerr.Wrap(store.ErrInvalidRelation, "relations must be a list of {target_id, kind, weight}"))
		}
	}

	rec, err := s.store.Write(ctx, p)
	return s.jsonResult("memory_write", rec, err)
}

// numberArg accepts the numeric forms a decoded tool argument can take.
func numberArg(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, goerr.New("not a number", goerr.V("value", v))
	}
}

func (s *Server) handleRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return s.jsonResult("memory_read", nil, err)
	}
	if req.GetBool("history", false) {
		revs, err := s.store.History(ctx, id)
		return s.jsonResult("memory_read", revs, err)
	}
	rec, err := s.store.Read(ctx, id)
	return s.jsonResult("memory_read", rec, err)
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return s.jsonResult("memory_search", nil, err)
	}
	results, err := s.searcher.Search(ctx, query, search.Options{
		Limit:      req.GetInt("limit", 10),
		MemoryType: model.MemoryType(req.GetString("memory_type", "")),
		Tags:       req.GetStringSlice("tags", nil),
	})
	if results == nil && err == nil {
		results = []search.Result{}
	}
	return s.jsonResult("memory_search", results, err)
}

func (s *Server) handleRelate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireString("from_id")
	if err != nil {
		return s.jsonResult("memory_relate", nil, err)
	}
	to, err := req.RequireString("to_id")
	if err != nil {
		return s.jsonResult("memory_relate", nil, err)
	}
	kind := req.GetString("kind", model.RelRelatesTo)

	if req.GetBool("remove", false) {
		err := s.store.RemoveRelation(ctx, from, to, kind)
		return s.jsonResult("memory_relate", map[string]any{"removed": err == nil, "from_id": from, "to_id": to, "kind": kind}, err)
	}
	rel, err := s.store.AddRelation(ctx, from, to, kind, req.GetFloat("weight", 0))
	return s.jsonResult("memory_relate", rel, err)
}

func (s *Server) handleForget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return s.jsonResult("memory_forget", nil, err)
	}
	reason := req.GetString("reason", model.DeletedManual)
	err = s.store.SoftDelete(ctx, id, reason)
	return s.jsonResult("memory_forget", map[string]any{"id": id, "deleted": err == nil, "reason": reason}, err)
}

func (s *Server) handleMaintain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p := s.policy
	args := req.GetArguments()
	if _, ok := args["decay_rate"]; ok {
		p.DecayRate = req.GetFloat("decay_rate", p.DecayRate)
	}
	if _, ok := args["prune_floor"]; ok {
		p.PruneFloor = req.GetFloat("prune_floor", p.PruneFloor)
	}
	if _, ok := args["orphan_importance_threshold"]; ok {
		p.OrphanImportanceThreshold = req.GetFloat("orphan_importance_threshold", p.OrphanImportanceThreshold)
	}
	p.EnableOrphanCleanup = req.GetBool("enable_orphan_cleanup", p.EnableOrphanCleanup)
	p.EnableDuplicateCleanup = req.GetBool("enable_duplicate_cleanup", p.EnableDuplicateCleanup)
	if _, ok := args["duplicate_similarity_threshold"]; ok {
		p.DuplicateSimilarityThreshold = req.GetFloat("duplicate_similarity_threshold", p.DuplicateSimilarityThreshold)
	}
	if v := req.GetString("stale_after", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return s.jsonResult("memory_maintain", nil, goerr.Wrap(err, "invalid stale_after", goerr.V("stale_after", v)))
		}
		p.StaleAfter = d
	}

	res, err := s.maintainer.Run(ctx, p, s.now())
	return s.jsonResult("memory_maintain", res, err)
}
