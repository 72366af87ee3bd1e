package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentcouncil/internal/state"
	"github.com/user/agentcouncil/internal/types"
)

func openDB(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "tools.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMemoryStoreAndRecall(t *testing.T) {
	ctx := context.Background()
	mem := state.NewMemoryStore(openDB(t))
	store, recall := NewMemoryStore(mem), NewMemoryRecall(mem)

	out, err := store.Execute(ctx, "dehtyar", json.RawMessage(`{"content":"The user prefers metric units"}`))
	require.NoError(t, err)
	assert.Equal(t, `Successfully stored short_term memory: "The user prefers metric units"`, out)

	long := strings.Repeat("a", 60)
	out, err = store.Execute(ctx, "dehtyar", json.RawMessage(`{"content":"`+long+`","type":"long_term","importance":0.9}`))
	require.NoError(t, err)
	assert.Equal(t, `Successfully stored long_term memory: "`+strings.Repeat("a", 50)+`..."`, out)

	out, err = recall.Execute(ctx, "dehtyar", nil)
	require.NoError(t, err)
	assert.Equal(t, "[Retrieved Memories]\n"+
		"1. [long_term] (importance: 0.9): "+long+"\n"+
		"2. [short_term] (importance: 0.5): The user prefers metric units", out)

	out, err = recall.Execute(ctx, "dehtyar", json.RawMessage(`{"query":"METRIC","limit":1}`))
	require.NoError(t, err)
	assert.Equal(t, "[Retrieved Memories]\n1. [short_term] (importance: 0.5): The user prefers metric units", out)

	out, err = recall.Execute(ctx, "researcher", nil)
	require.NoError(t, err)
	assert.Equal(t, "No memories found matching your query.", out)
}

func TestMemoryStoreValidation(t *testing.T) {
	store := NewMemoryStore(state.NewMemoryStore(openDB(t)))

	_, err := store.Execute(context.Background(), "a", json.RawMessage(`{"content":"  "}`))
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = store.Execute(context.Background(), "a", json.RawMessage(`{"content":"x","importance":2}`))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "importance", verr.Field)
}
