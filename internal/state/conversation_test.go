// internal/state/conversation_test.go
package state

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentcouncil/internal/types"
)

func newConversation(t *testing.T, s *ConversationStore) *types.Conversation {
	t.Helper()
	conv := &types.Conversation{AgentID: "dehtyar", Title: "hello"}
	require.NoError(t, s.Create(context.Background(), conv))
	return conv
}

func TestConversationStore_CreateGetByKey(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore(openTestDB(t))

	conv := &types.Conversation{AgentID: "dehtyar", Title: "plan", Key: types.NewConversationKey("telegram", "1", "2")}
	require.NoError(t, s.Create(ctx, conv))

	got, err := s.GetByKey(ctx, conv.Key)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, "plan", got.Title)

	require.NoError(t, s.ReleaseKey(ctx, conv.Key))
	_, err = s.GetByKey(ctx, conv.Key)
	var nf *types.NotFoundError
	assert.True(t, errors.As(err, &nf))

	// Released key can be reused.
	require.NoError(t, s.Create(ctx, &types.Conversation{AgentID: "dehtyar", Key: conv.Key}))
}

func TestConversationStore_GetMissing(t *testing.T) {
	s := NewConversationStore(openTestDB(t))
	_, err := s.Get(context.Background(), "missing")
	var nf *types.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestConversationStore_PendingMessagesHiddenUntilFinalized(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore(openTestDB(t))
	conv := newConversation(t, s)

	require.NoError(t, s.Append(ctx, &types.Message{ConversationID: conv.ID, Role: types.RoleUser, Content: "hi"}))
	placeholder, err := s.BeginAssistant(ctx, conv.ID, "dehtyar")
	require.NoError(t, err)
	assert.Equal(t, types.MessagePending, placeholder.State)

	msgs, err := s.Recent(ctx, conv.ID, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, s.Finalize(ctx, placeholder.ID, "hello there"))
	msgs, err = s.Recent(ctx, conv.ID, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello there", msgs[1].Content)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)

	// A finalized message is never re-opened.
	assert.Error(t, s.Finalize(ctx, placeholder.ID, "rewritten"))
	require.NoError(t, s.Discard(ctx, placeholder.ID))
	n, err := s.Count(ctx, conv.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestConversationStore_DiscardPending(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore(openTestDB(t))
	conv := newConversation(t, s)

	placeholder, err := s.BeginAssistant(ctx, conv.ID, "dehtyar")
	require.NoError(t, err)
	require.NoError(t, s.Discard(ctx, placeholder.ID))

	var rows int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&rows))
	assert.Zero(t, rows)
}

func TestConversationStore_RecentKeepsNewestInOrder(t *testing.T) {
	ctx := context.Background()
	s := NewConversationStore(openTestDB(t))
	conv := newConversation(t, s)

	for i := 0; i < 25; i++ {
		require.NoError(t, s.Append(ctx, &types.Message{ConversationID: conv.ID, Role: types.RoleUser, Content: fmt.Sprintf("m%d", i)}))
	}
	msgs, err := s.Recent(ctx, conv.ID, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 20)
	assert.Equal(t, "m5", msgs[0].Content)
	assert.Equal(t, "m24", msgs[19].Content)
}

func TestConversationStore_AppendUnknownConversation(t *testing.T) {
	s := NewConversationStore(openTestDB(t))
	err := s.Append(context.Background(), &types.Message{ConversationID: "nope", Role: types.RoleUser, Content: "x"})
	assert.Error(t, err)
}
