package campusbot

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// subcommand returns the name of the invoked subcommand, or "" for a
// bare command.
func subcommand(i *discordgo.InteractionCreate) string {
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return ""
	}
	return options[0].Name
}

// commandLogger returns the context logger (falling back to the bot's),
// tagged with the command name.
func (d *CampusBot) commandLogger(
	ctx context.Context,
	command string,
) *slog.Logger {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = d.logger
	}
	return logger.With("command", command)
}

// respondEphemeral replies to an interaction with a message only the
// invoking user can see. Used for terse outcomes that don't need a
// prompt chain.
func (d *CampusBot) respondEphemeral(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	err := d.discord.session.InteractionRespond(
		i.Interaction,
		ephemeralResponse(content),
	)
	if err != nil {
		logger, ok := ContextLogger(ctx)
		if !ok {
			logger = d.logger
		}
		logger.ErrorContext(ctx, "error sending response", tint.Err(err))
	}
}

// finishAnchor writes a flow's final status over the anchor message,
// removing any leftover components. Safe to call with a nil anchor.
func (d *CampusBot) finishAnchor(
	ctx context.Context,
	anchor *Anchor,
	content string,
	embeds ...*discordgo.MessageEmbed,
) {
	if anchor == nil {
		return
	}
	content = truncate(content, discordMaxMessageLength)
	components := []discordgo.MessageComponent{}
	edit := &discordgo.WebhookEdit{
		Content:    &content,
		Components: &components,
	}
	if len(embeds) > 0 {
		edit.Embeds = &embeds
	}
	if _, err := d.discord.session.InteractionResponseEdit(
		anchor.Interaction,
		edit,
	); err != nil {
		logger, ok := ContextLogger(ctx)
		if !ok {
			logger = d.logger
		}
		logger.ErrorContext(ctx, "error writing final status", tint.Err(err))
	}
}

// respondEphemeralEmbed replies to an interaction with an ephemeral
// embed.
func (d *CampusBot) respondEphemeralEmbed(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	embed *discordgo.MessageEmbed,
) {
	err := d.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
				Flags:  discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		logger, ok := ContextLogger(ctx)
		if !ok {
			logger = d.logger
		}
		logger.ErrorContext(ctx, "error sending embed response", tint.Err(err))
	}
}

// loadUser fetches the invoking user's document, returning nil if they
// haven't been seen before.
func (d *CampusBot) loadUser(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (*User, error) {
	discordUser := getDiscordUser(i)
	if discordUser == nil {
		return nil, nil
	}
	user := &User{}
	found, err := d.writeDB.Get(ctx, user, discordUser.ID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return user, nil
}
