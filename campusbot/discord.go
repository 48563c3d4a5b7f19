package campusbot

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var discordPermissionManageGuild int64 = discordgo.PermissionManageServer

// Discord handles the bot's Discord integration: the gateway session,
// slash command registration, and the gateway lifecycle handlers.
type Discord struct {
	config    *DiscordConfig
	session   DiscordSessionHandler
	logger    *slog.Logger
	connected atomic.Bool
	bot       *CampusBot
}

func newDiscord(config *DiscordConfig) (*Discord, error) {
	d := &Discord{config: config}
	session, err := d.newSession()
	if err != nil {
		return nil, err
	}
	d.session = session
	return d, nil
}

func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session, err := discordgo.New(fmt.Sprintf("Bot %s", d.config.Token))
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	session.Identify.Intents = d.config.GatewayIntents
	if d.config.httpClient != nil {
		session.Client = d.config.httpClient
	}
	return DiscordSession{session}, nil
}

func (d *Discord) appCommandProfile() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandProfile,
		Description: "Create and manage your member profile",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "create",
				Description: "Create your profile",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "update",
				Description: "Update your profile",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "show",
				Description: "Show your profile",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "delete",
				Description: "Delete your profile",
			},
		},
	}
}

func (d *Discord) appCommandOfficeHours() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandOfficeHours,
		Description: "Manage weekly office hours",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "edit",
				Description: "Set your weekly office hours",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "show",
				Description: "Show the combined office hours schedule",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "announce",
				Description: "Post the office hours schedule to the announcements channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "clear",
				Description: "Remove your office hours entry",
			},
		},
	}
}

func (d *Discord) appCommandServer() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandServer,
		Description:              "Configure server channels and roles",
		DefaultMemberPermissions: &discordPermissionManageGuild,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "show",
				Description: "Show the current server configuration",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "edit",
				Description: "Edit configured channels and roles",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "clear",
				Description: "Clear configured channels and/or roles",
			},
		},
	}
}

func (d *Discord) appCommandEvent() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandEvent,
		Description: "Create and list events",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "create",
				Description: "Create a new event",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List upcoming events",
			},
		},
	}
}

func (d *Discord) appCommandReport() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandReport,
		Description: "Submit a report to the moderators",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "bug",
				Description: "Report a bug",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "feature",
				Description: "Request a feature",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "feedback",
				Description: "Send general feedback",
			},
		},
	}
}

// registerCommands registers the bot's slash commands, overwriting any
// previously registered commands.
func (d *Discord) registerCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	commands := []*discordgo.ApplicationCommand{
		d.appCommandProfile(),
		d.appCommandOfficeHours(),
		d.appCommandServer(),
		d.appCommandEvent(),
		d.appCommandReport(),
	}
	registered, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		return registered, fmt.Errorf("error registering commands: %w", err)
	}
	for _, cmd := range registered {
		d.logger.Info(
			"registered command",
			"name", cmd.Name,
			"command_id", cmd.ID,
		)
	}
	return registered, nil
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info(
			"discord ready",
			"session_id", r.SessionID,
			"username", r.User.Username,
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	c *discordgo.Connect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.connected.Store(true)
		d.logger.Info("connected to discord gateway")
		if d.config.CustomStatus != "" {
			go func() {
				if err := d.session.UpdateCustomStatus(
					d.config.CustomStatus,
				); err != nil {
					d.logger.Error("error updating status", tint.Err(err))
				}
			}()
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	c *discordgo.Disconnect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.logger.Warn("disconnected from discord gateway")
	}
}

// channelMessageSend sends a plain message to a channel, truncated to
// discord's message length limit.
func (d *Discord) channelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(
		channelID,
		truncate(content, discordMaxMessageLength),
		options...,
	)
}

// DiscordSessionHandler abstracts the discordgo session methods the bot
// uses, primarily to enable mocking for testing. [DiscordSession]
// implements this for 'real' sessions.
type DiscordSessionHandler interface {
	Open() error
	Close() error
	AddHandler(handler any) func()
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error
	InteractionResponse(
		interaction *discordgo.Interaction,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelMessageEditComplex(
		m *discordgo.MessageEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)
	UpdateCustomStatus(state string) error
	GatewayBot(options ...discordgo.RequestOption) (
		*discordgo.GatewayBotResponse,
		error,
	)
}

// DiscordSession is the default [DiscordSessionHandler] implementation,
// delegating to a real discordgo session.
type DiscordSession struct {
	*discordgo.Session
}

func (d DiscordSession) Open() error {
	return d.Session.Open()
}

func (d DiscordSession) Close() error {
	return d.Session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.Session.AddHandler(handler)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.Session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponse(
	interaction *discordgo.Interaction,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.Session.InteractionResponse(interaction, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.Session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.Session.ChannelMessageSend(channelID, content, options...)
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.Session.ChannelMessageSendComplex(channelID, data, options...)
}

func (d DiscordSession) ChannelMessageEditComplex(
	m *discordgo.MessageEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.Session.ChannelMessageEditComplex(m, options...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return d.Session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
}

func (d DiscordSession) UpdateCustomStatus(state string) error {
	return d.Session.UpdateCustomStatus(state)
}

func (d DiscordSession) GatewayBot(options ...discordgo.RequestOption) (
	*discordgo.GatewayBotResponse,
	error,
) {
	return d.Session.GatewayBot(options...)
}

// getDiscordUser returns the user attached to an interaction, whether it
// came from a guild (Member) or a DM (User).
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	switch {
	case i.User != nil:
		return i.User
	case i.Member != nil:
		return i.Member.User
	default:
		return nil
	}
}

// ephemeralResponse responds to an interaction with an ephemeral
// message, visible only to the invoking user.
func ephemeralResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: truncate(content, discordMaxMessageLength),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}
