// internal/types/ids_test.go
package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConversationID(t *testing.T) {
	id := NewConversationID()
	assert.Len(t, string(id), 36)
	assert.NotEqual(t, id, NewConversationID())
}

func TestConversationKeyFormat(t *testing.T) {
	assert.Equal(t, ConversationKey("telegram:123:456"), NewConversationKey("telegram", "123", "456"))
}

func TestAgentSlug(t *testing.T) {
	cases := map[string]AgentID{
		"Dehtyar":          "dehtyar",
		"  Data Scientist": "data-scientist",
		"R&D -- Lead!":     "r-d-lead",
		"":                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, AgentSlug(in), "slug of %q", in)
	}
}
