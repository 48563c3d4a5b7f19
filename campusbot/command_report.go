package campusbot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ReportTemplate defines the form shown for one /report subcommand.
// Templates are seeded at startup and keyed by subcommand name, so the
// forms can be customized through the database without a deploy.
type ReportTemplate struct {
	ModelStringID
	ModelUnixTime
	Title  string                           `json:"title"`
	Fields datatypes.JSONSlice[ReportField] `json:"fields"`
}

// ReportField is one text input in a report form.
type ReportField struct {
	Key       string                   `json:"key"`
	Label     string                   `json:"label"`
	Style     discordgo.TextInputStyle `json:"style"`
	Required  bool                     `json:"required"`
	MinLength int                      `json:"min_length,omitempty"`
	MaxLength int                      `json:"max_length,omitempty"`
}

func defaultReportTemplates() []ReportTemplate {
	return []ReportTemplate{
		{
			ModelStringID: ModelStringID{ID: "bug"},
			Title:         "Bug report",
			Fields: datatypes.JSONSlice[ReportField]{
				{
					Key:       "summary",
					Label:     "What went wrong?",
					Required:  true,
					MaxLength: 200,
				},
				{
					Key:       "steps",
					Label:     "Steps to reproduce",
					Style:     discordgo.TextInputParagraph,
					Required:  true,
					MaxLength: 1000,
				},
				{
					Key:       "expected",
					Label:     "What did you expect to happen?",
					Style:     discordgo.TextInputParagraph,
					MaxLength: 1000,
				},
			},
		},
		{
			ModelStringID: ModelStringID{ID: "feature"},
			Title:         "Feature request",
			Fields: datatypes.JSONSlice[ReportField]{
				{
					Key:       "summary",
					Label:     "What would you like to see?",
					Required:  true,
					MaxLength: 200,
				},
				{
					Key:       "details",
					Label:     "Tell us more",
					Style:     discordgo.TextInputParagraph,
					MaxLength: 1000,
				},
			},
		},
		{
			ModelStringID: ModelStringID{ID: "feedback"},
			Title:         "Feedback",
			Fields: datatypes.JSONSlice[ReportField]{
				{
					Key:       "message",
					Label:     "Your feedback",
					Style:     discordgo.TextInputParagraph,
					Required:  true,
					MaxLength: 2000,
				},
			},
		},
	}
}

func (d *CampusBot) handleReportCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	logger := d.commandLogger(ctx, DiscordSlashCommandReport)
	ctx = WithLogger(ctx, logger)

	if i.GuildID == "" {
		d.respondEphemeral(
			ctx,
			i,
			"Reports can only be submitted from within a server.",
		)
		return nil
	}

	templateName := subcommand(i)
	template, err := d.writeDB.GetReportTemplate(ctx, templateName)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WarnContext(ctx, "missing report template", "template", templateName)
			d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
			return nil
		}
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}

	fields := make([]FormField, 0, len(template.Fields))
	for _, field := range template.Fields {
		fields = append(
			fields, FormField{
				Key:       field.Key,
				Label:     field.Label,
				Style:     field.Style,
				Required:  field.Required,
				MinLength: field.MinLength,
				MaxLength: field.MaxLength,
			},
		)
	}

	form, err := d.newFormPrompt(template.Title, fields...)
	if err != nil {
		return err
	}
	values, anchor, err := form.Start(ctx, OriginFromInteraction(i))
	if err != nil || values == nil {
		return err
	}

	guild, err := d.getOrCreateGuild(ctx, i.GuildID)
	if err != nil {
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}
	channels, err := guild.Channels()
	if err != nil {
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}
	if channels.Reports == "" {
		d.finishAnchor(
			ctx,
			anchor,
			"Thanks, but no reports channel is configured here. "+
				"An admin can set one with `/server edit`.",
		)
		return nil
	}

	discordUser := getDiscordUser(i)
	embed := reportEmbed(template, values, discordUser)
	_, err = d.discord.session.ChannelMessageSendComplex(
		channels.Reports,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}},
	)
	if err != nil {
		logger.ErrorContext(ctx, "error delivering report", tint.Err(err))
		d.finishAnchor(
			ctx,
			anchor,
			"Your report couldn't be delivered. Try again later.",
		)
		return err
	}

	logger.InfoContext(ctx, "report submitted", "template", templateName)
	d.finishAnchor(ctx, anchor, "Thanks! Your report has been sent.")
	return nil
}

// reportEmbed renders a submitted report for the reports channel, with
// the template's fields in declaration order.
func reportEmbed(
	template *ReportTemplate,
	values map[string]string,
	reporter *discordgo.User,
) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(template.Fields))
	for _, field := range template.Fields {
		value := strings.TrimSpace(values[field.Key])
		if value == "" {
			continue
		}
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:  field.Label,
				Value: truncate(value, 1024),
			},
		)
	}

	embed := &discordgo.MessageEmbed{
		Title:  template.Title,
		Fields: fields,
	}
	if reporter != nil {
		embed.Description = fmt.Sprintf("Submitted by <@%s>", reporter.ID)
	}
	return embed
}
