package campusbot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateGuildCreatesMissing(t *testing.T) {
	t.Parallel()
	bot, _ := newPromptTestBot(t)
	bot.writeDB = newTestStore(t)
	ctx := context.Background()

	guild, err := bot.getOrCreateGuild(ctx, "guild-1")
	require.NoError(t, err)
	require.NotNil(t, guild)
	assert.Contains(t, guild.Data, fieldOfficeHours)

	found, err := bot.writeDB.Get(ctx, &Guild{}, "guild-1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestGetOrCreateGuildToleratesDrift(t *testing.T) {
	t.Parallel()
	bot, _ := newPromptTestBot(t)
	bot.writeDB = newTestStore(t)
	ctx := context.Background()

	stored := NewGuild("guild-1")
	stored.Data["legacy_field"] = "old"
	require.NoError(t, bot.writeDB.Add(ctx, stored))

	// a rejoin with undeclared fields logs the drift and keeps the
	// document usable rather than failing every command in the guild
	guild, err := bot.getOrCreateGuild(ctx, "guild-1")
	require.NoError(t, err)
	require.NotNil(t, guild)
	assert.Equal(t, "old", guild.Data["legacy_field"])
	assert.Contains(t, guild.Data, fieldOfficeHours)
}

func TestGetOrCreateGuildBackfillsTemplate(t *testing.T) {
	t.Parallel()
	bot, _ := newPromptTestBot(t)
	bot.writeDB = newTestStore(t)
	ctx := context.Background()

	stored := &Guild{
		ModelStringID: ModelStringID{ID: "guild-1"},
		Data:          map[string]any{"users": []any{}},
	}
	require.NoError(t, bot.writeDB.Add(ctx, stored))

	guild, err := bot.getOrCreateGuild(ctx, "guild-1")
	require.NoError(t, err)
	assert.Contains(t, guild.Data, fieldOfficeHours)
	assert.Contains(t, guild.Data, fieldChannels)
}
