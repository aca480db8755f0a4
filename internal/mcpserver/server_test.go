package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memkeeper/internal/lifecycle"
	"github.com/rcliao/memkeeper/internal/model"
	"github.com/rcliao/memkeeper/internal/search"
	"github.com/rcliao/memkeeper/internal/store"
)

var passTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T) (*Server, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "mcp.db"),
		store.WithClock(func() time.Time { return passTime.Add(-48 * time.Hour) }))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := New(st, search.New(st), lifecycle.NewRunner(st), "test",
		WithClock(func() time.Time { return passTime }))
	return srv, st
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func TestWriteAndRead(t *testing.T) {
	ctx := context.Background()
	srv, _ := newServer(t)

	res, err := srv.handleWrite(ctx, call("memory_write", map[string]any{
		"id":          "pref-editor",
		"content":     "prefers helix over vim",
		"tags":        []any{"editor"},
		"memory_type": "preference",
		"importance":  0.75,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var rec model.Record
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &rec))
	assert.Equal(t, "pref-editor", rec.ID)
	assert.Equal(t, model.TypePreference, rec.MemoryType)
	assert.InDelta(t, 0.75, rec.Importance, 1e-9)
	assert.Equal(t, []string{"editor"}, rec.Tags)

	res, err = srv.handleRead(ctx, call("memory_read", map[string]any{"id": "pref-editor"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, text(t, res), "prefers helix over vim")

	res, err = srv.handleRead(ctx, call("memory_read", map[string]any{"id": "pref-editor", "history": true}))
	require.NoError(t, err)
	var revs []model.Record
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &revs))
	assert.Len(t, revs, 1)
}

func TestToolErrorsAreResults(t *testing.T) {
	ctx := context.Background()
	srv, st := newServer(t)

	res, err := srv.handleWrite(ctx, call("memory_write", map[string]any{"content": "x", "memory_type": "gossip"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = srv.handleRead(ctx, call("memory_read", map[string]any{"id": "absent"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	_, err = st.Write(ctx, store.WriteParams{ID: "a", Content: "alpha"})
	require.NoError(t, err)
	res, err = srv.handleRelate(ctx, call("memory_relate", map[string]any{"from_id": "a", "to_id": "missing-123"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	n, err := st.EdgeCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	res, err = srv.handleWrite(ctx, call("memory_write", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRelateAndForget(t *testing.T) {
	ctx := context.Background()
	srv, st := newServer(t)
	for _, id := range []string{"a", "b"} {
		_, err := st.Write(ctx, store.WriteParams{ID: id, Content: id + " content"})
		require.NoError(t, err)
	}

	res, err := srv.handleRelate(ctx, call("memory_relate", map[string]any{"from_id": "a", "to_id": "b", "kind": "supports", "weight": 0.5}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	var rel model.Relation
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &rel))
	assert.Equal(t, model.RelSupports, rel.Kind)
	assert.InDelta(t, 0.5, rel.Weight, 1e-9)

	res, err = srv.handleRelate(ctx, call("memory_relate", map[string]any{"from_id": "a", "to_id": "b", "kind": "supports", "remove": true}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	n, err := st.EdgeCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	res, err = srv.handleForget(ctx, call("memory_forget", map[string]any{"id": "b"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	_, err = st.Peek(ctx, "b")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWriteWithRelations(t *testing.T) {
	ctx := context.Background()
	srv, st := newServer(t)
	_, err := st.Write(ctx, store.WriteParams{ID: "goal", Content: "ship v2", MemoryType: model.TypeGoal})
	require.NoError(t, err)

	res, err := srv.handleWrite(ctx, call("memory_write", map[string]any{
		"id":      "todo",
		"content": "write migration",
		"relations": []any{
			map[string]any{"target_id": "goal", "kind": "depends_on"},
		},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	rels, err := st.Relations(ctx, "goal")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "todo", rels[0].FromID)
	assert.Equal(t, model.RelDependsOn, rels[0].Kind)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	srv, st := newServer(t)
	_, err := st.Write(ctx, store.WriteParams{ID: "db", Content: "postgres is the primary database"})
	require.NoError(t, err)
	_, err = st.Write(ctx, store.WriteParams{ID: "ui", Content: "the dashboard uses react"})
	require.NoError(t, err)

	res, err := srv.handleSearch(ctx, call("memory_search", map[string]any{"query": "database"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	var results []search.Result
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "db", results[0].Record.ID)

	res, err = srv.handleSearch(ctx, call("memory_search", map[string]any{"query": "kubernetes"}))
	require.NoError(t, err)
	assert.Equal(t, "[]", text(t, res))

	res, err = srv.handleSearch(ctx, call("memory_search", map[string]any{"query": "  "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMaintain(t *testing.T) {
	ctx := context.Background()
	srv, st := newServer(t)
	_, err := st.Write(ctx, store.WriteParams{ID: "note", Content: "low value", Importance: ptr(0.5)})
	require.NoError(t, err)
	_, err = st.Write(ctx, store.WriteParams{ID: "me", Content: "I am the operator", MemoryType: model.TypeIdentity, Importance: ptr(0)})
	require.NoError(t, err)

	res, err := srv.handleMaintain(ctx, call("memory_maintain", map[string]any{
		"decay_rate":            0.2,
		"prune_floor":           0.3,
		"enable_orphan_cleanup": false,
		"stale_after":           "0s",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var out lifecycle.Result
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.Equal(t, lifecycle.ResultSchemaVersion, out.SchemaVersion)
	assert.Equal(t, 1, out.DecayedCount)
	assert.Equal(t, 1, out.IdentityExemptCount)

	rec, err := st.Peek(ctx, "note")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, rec.Importance, 1e-9)

	res, err = srv.handleMaintain(ctx, call("memory_maintain", map[string]any{"decay_rate": 1.5}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = srv.handleMaintain(ctx, call("memory_maintain", map[string]any{"stale_after": "soon"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestWriteRejectsNonNumericImportance(t *testing.T) {
	ctx := context.Background()
	srv, st := newServer(t)

	res, err := srv.handleWrite(ctx, call("memory_write", map[string]any{
		"id":         "loud",
		"content":    "importance sent as text",
		"importance": "very",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError, text(t, res))
	_, err = st.Peek(ctx, "loud")
	assert.ErrorIs(t, err, store.ErrNotFound)

	res, err = srv.handleWrite(ctx, call("memory_write", map[string]any{
		"id":         "whole",
		"content":    "importance sent as an integer",
		"importance": 1,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	rec, err := st.Peek(ctx, "whole")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rec.Importance, 1e-9)
}

func TestForgetRejectsUnknownReason(t *testing.T) {
	ctx := context.Background()
	srv, st := newServer(t)
	_, err := st.Write(ctx, store.WriteParams{ID: "n", Content: "keep me"})
	require.NoError(t, err)

	res, err := srv.handleForget(ctx, call("memory_forget", map[string]any{"id": "n", "reason": "bored"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	_, err = st.Peek(ctx, "n")
	assert.NoError(t, err)

	res, err = srv.handleForget(ctx, call("memory_forget", map[string]any{"id": "n", "reason": model.DeletedDuplicate}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
}

func TestMaintainDuplicateCleanup(t *testing.T) {
	ctx := context.Background()
	srv, st := newServer(t)
	_, err := st.Write(ctx, store.WriteParams{ID: "a", Content: "standup is at nine", Importance: ptr(0.8)})
	require.NoError(t, err)
	_, err = st.Write(ctx, store.WriteParams{ID: "b", Content: "Standup is at nine.", Importance: ptr(0.6)})
	require.NoError(t, err)

	res, err := srv.handleMaintain(ctx, call("memory_maintain", map[string]any{
		"decay_rate":                     0,
		"enable_orphan_cleanup":          false,
		"enable_duplicate_cleanup":       true,
		"duplicate_similarity_threshold": 0.9,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var out lifecycle.Result
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.Equal(t, 1, out.DuplicateCleanedCount)
	_, err = st.Peek(ctx, "b")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestToolsListed(t *testing.T) {
	srv, _ := newServer(t)
	msg := srv.MCP().HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	for _, name := range []string{"memory_write", "memory_read", "memory_search", "memory_relate", "memory_forget", "memory_maintain"} {
		assert.Contains(t, string(b), `"name":"`+name+`"`)
	}
}

func ptr(f float64) *float64 { return &f }
