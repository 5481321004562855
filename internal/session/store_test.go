package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwf-platform/shop-assistant/internal/conversation"
)

func TestMemoryStore_LoadMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Load(context.Background(), "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SaveAndLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	window := conversation.Window{
		{Role: conversation.RoleUser, Text: "show me rice"},
		{Role: conversation.RoleAssistant, Text: "here you go", ShownProductNames: []string{"Brown Rice"}},
	}
	require.NoError(t, store.Save(ctx, "conv-1", window))

	loaded, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, window, loaded)
}

func TestMemoryStore_IsolatesCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	window := conversation.Window{{Role: conversation.RoleUser, Text: "original"}}
	require.NoError(t, store.Save(ctx, "conv-1", window))

	// Mutating the caller's slice must not affect the stored window.
	window[0].Text = "mutated"

	loaded, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "original", loaded[0].Text)

	// Mutating a loaded copy must not affect subsequent loads.
	loaded[0].Text = "mutated again"
	reloaded, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "original", reloaded[0].Text)
}

func TestMemoryStore_OverwriteConversation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "conv-1", conversation.Window{
		{Role: conversation.RoleUser, Text: "first"},
	}))
	require.NoError(t, store.Save(ctx, "conv-1", conversation.Window{
		{Role: conversation.RoleUser, Text: "second"},
	}))

	loaded, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "second", loaded[0].Text)
}
