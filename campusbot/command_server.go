package campusbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var guildChannelKeys = []string{"reports", "announcements", "moderator"}

var guildRoleKeys = []string{"visitor", "member", "eboard", "admin"}

func (d *CampusBot) handleServerCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if i.GuildID == "" {
		d.respondEphemeral(
			ctx,
			i,
			"Server configuration is only available from within a server.",
		)
		return nil
	}
	switch subcommand(i) {
	case "show":
		return d.serverShow(ctx, i)
	case "edit":
		return d.serverEdit(ctx, i)
	case "clear":
		return d.serverClear(ctx, i)
	default:
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return nil
	}
}

func (d *CampusBot) serverShow(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	guild, err := d.getOrCreateGuild(ctx, i.GuildID)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	embed, err := serverConfigEmbed(guild)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	d.respondEphemeralEmbed(ctx, i, embed)
	return nil
}

func (d *CampusBot) serverEdit(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	logger := d.commandLogger(ctx, DiscordSlashCommandServer)
	ctx = WithLogger(ctx, logger)

	guild, err := d.getOrCreateGuild(ctx, i.GuildID)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}

	prompt, err := d.newSelectPrompt(
		"What would you like to configure?",
		false,
		SelectGroup{
			Key:         "section",
			Placeholder: "Pick a section",
			MinValues:   1,
			Options: []discordgo.SelectMenuOption{
				{
					Label:       "Channels",
					Value:       "channels",
					Description: "Reports, announcements, and moderator channels",
				},
				{
					Label:       "Roles",
					Value:       "roles",
					Description: "Visitor, member, e-board, and admin roles",
				},
			},
		},
	)
	if err != nil {
		return err
	}
	selections, anchor, err := prompt.Start(ctx, OriginFromInteraction(i))
	if err != nil || selections == nil {
		return err
	}

	var section string
	if picked := selections["section"]; len(picked) > 0 {
		section = picked[0]
	}

	switch section {
	case "channels":
		return d.serverEditChannels(ctx, guild, anchor)
	case "roles":
		return d.serverEditRoles(ctx, guild, anchor)
	default:
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return nil
	}
}

func (d *CampusBot) serverEditChannels(
	ctx context.Context,
	guild *Guild,
	anchor *Anchor,
) error {
	groups := make([]SelectGroup, 0, len(guildChannelKeys))
	for _, key := range guildChannelKeys {
		groups = append(
			groups, SelectGroup{
				Key:         key,
				Placeholder: fmt.Sprintf("%s channel", titleCase(key)),
				MenuType:    discordgo.ChannelSelectMenu,
				MinValues:   0,
				MaxValues:   1,
				ChannelTypes: []discordgo.ChannelType{
					discordgo.ChannelTypeGuildText,
				},
			},
		)
	}

	prompt, err := d.newSelectPrompt(
		"Pick the channels the bot should use. "+
			"Dropdowns you don't touch keep their current setting.",
		true,
		groups...,
	)
	if err != nil {
		return err
	}
	selections, anchor, err := prompt.Start(ctx, OriginFromAnchor(anchor))
	if err != nil || selections == nil {
		return err
	}

	return d.applyServerUpdate(ctx, guild, anchor, fieldChannels, selections)
}

func (d *CampusBot) serverEditRoles(
	ctx context.Context,
	guild *Guild,
	anchor *Anchor,
) error {
	groups := make([]SelectGroup, 0, len(guildRoleKeys))
	for _, key := range guildRoleKeys {
		groups = append(
			groups, SelectGroup{
				Key:         key,
				Placeholder: fmt.Sprintf("%s role", titleCase(key)),
				MenuType:    discordgo.RoleSelectMenu,
				MinValues:   0,
				MaxValues:   1,
			},
		)
	}

	prompt, err := d.newSelectPrompt(
		"Pick the roles the bot should use. "+
			"Dropdowns you don't touch keep their current setting.",
		true,
		groups...,
	)
	if err != nil {
		return err
	}
	selections, anchor, err := prompt.Start(ctx, OriginFromAnchor(anchor))
	if err != nil || selections == nil {
		return err
	}

	return d.applyServerUpdate(ctx, guild, anchor, fieldRoles, selections)
}

// applyServerUpdate writes the touched dropdowns back to the guild
// document. A dropdown cleared to nothing clears the setting.
func (d *CampusBot) applyServerUpdate(
	ctx context.Context,
	guild *Guild,
	anchor *Anchor,
	section string,
	selections map[string][]string,
) error {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = d.logger
	}

	changes := map[string]any{}
	for key, values := range selections {
		path := section + fieldPathSeparator + key
		if len(values) == 0 {
			changes[path] = nil
		} else {
			changes[path] = values[0]
		}
	}
	if len(changes) == 0 {
		d.finishAnchor(ctx, anchor, "Nothing changed.")
		return nil
	}

	if err := d.writeDB.Update(ctx, guild, changes); err != nil {
		logger.ErrorContext(ctx, "error updating guild config", tint.Err(err))
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}

	logger.InfoContext(
		ctx,
		"guild configuration updated",
		"guild_id", guild.ID,
		"section", section,
		"changed", len(changes),
	)
	embed, err := serverConfigEmbed(guild)
	if err != nil {
		d.finishAnchor(ctx, anchor, "Server configuration updated!")
		return nil
	}
	d.finishAnchor(ctx, anchor, "Server configuration updated!", embed)
	return nil
}

func (d *CampusBot) serverClear(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	logger := d.commandLogger(ctx, DiscordSlashCommandServer)
	ctx = WithLogger(ctx, logger)

	guild, err := d.getOrCreateGuild(ctx, i.GuildID)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}

	confirm, err := d.newConfirmPrompt(
		"This clears all configured channels and roles. Are you sure?",
	)
	if err != nil {
		return err
	}
	accepted, anchor, err := confirm.Destructive("Clear configuration").
		Start(ctx, OriginFromInteraction(i))
	if err != nil || accepted == nil || !*accepted {
		return err
	}

	changes := map[string]any{}
	for _, key := range guildChannelKeys {
		changes[fieldChannels+fieldPathSeparator+key] = nil
	}
	for _, key := range guildRoleKeys {
		changes[fieldRoles+fieldPathSeparator+key] = nil
	}

	if err = d.writeDB.Update(ctx, guild, changes); err != nil {
		logger.ErrorContext(ctx, "error clearing guild config", tint.Err(err))
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}
	logger.InfoContext(ctx, "guild configuration cleared", "guild_id", guild.ID)
	d.finishAnchor(ctx, anchor, "Server configuration cleared.")
	return nil
}

func serverConfigEmbed(guild *Guild) (*discordgo.MessageEmbed, error) {
	channels, err := guild.Channels()
	if err != nil {
		return nil, err
	}
	roles, err := guild.Roles()
	if err != nil {
		return nil, err
	}

	channelLine := func(label string, id string) string {
		if id == "" {
			return fmt.Sprintf("%s: not set", label)
		}
		return fmt.Sprintf("%s: <#%s>", label, id)
	}
	roleLine := func(label string, id string) string {
		if id == "" {
			return fmt.Sprintf("%s: not set", label)
		}
		return fmt.Sprintf("%s: <@&%s>", label, id)
	}

	return &discordgo.MessageEmbed{
		Title: "Server configuration",
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "Channels",
				Value: strings.Join(
					[]string{
						channelLine("Reports", channels.Reports),
						channelLine("Announcements", channels.Announcements),
						channelLine("Moderator", channels.Moderator),
					},
					"\n",
				),
			},
			{
				Name: "Roles",
				Value: strings.Join(
					[]string{
						roleLine("Visitor", roles.Visitor),
						roleLine("Member", roles.Member),
						roleLine("E-board", roles.Eboard),
						roleLine("Admin", roles.Admin),
					},
					"\n",
				),
			},
		},
	}, nil
}

// titleCase uppercases the first letter of a single lowercase word.
func titleCase(word string) string {
	if word == "" {
		return word
	}
	return strings.ToUpper(word[:1]) + word[1:]
}
