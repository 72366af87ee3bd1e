// Package state provides SQLite-backed storage implementations.
package state

import "github.com/user/agentcouncil/internal/types"

// Compile-time interface compliance checks.
var _ types.ConversationStore = (*ConversationStore)(nil)
var _ types.MemoryStore = (*MemoryStore)(nil)
var _ types.TaskStore = (*TaskStore)(nil)
var _ types.CouncilStore = (*CouncilStore)(nil)
