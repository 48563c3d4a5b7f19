// Package campusbot implements a Discord bot for managing a campus
// community server: member profiles with school email verification,
// weekly office hours, per-guild channel and role configuration,
// events with RSVP tracking, and moderator reports, along with a small
// HTTP API for bot administration.
package campusbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var defaultLogWriter io.Writer = os.Stdout

// Set at build time via:
// -ldflags "-X github.com/campushall/campusbot/campusbot.Version=$$(date +'%Y%m%d')"
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// CampusBot is the top-level bot. Create it with [New], then call
// [CampusBot.Run] to connect to Discord and serve the admin API.
type CampusBot struct {
	config     *Config
	db         *gorm.DB
	writeDB    DocumentStore
	logger     *slog.Logger
	logHandler slog.Handler

	discord  *Discord
	api      *API
	verifier *Verifier
	prompts  *promptRouter

	// signalStop is used to stop the bot (ex: from the `/api/quit` endpoint)
	signalStop chan struct{}

	// signalReady is sent on once the bot has finished starting up
	signalReady chan struct{}

	// eventShutdown is sent on when the bot has finished shutting down
	eventShutdown chan struct{}

	// runMu prevents concurrent Run calls
	runMu sync.Mutex

	// paused indicates slash commands should be rejected with a
	// friendly message (toggled from the API)
	paused atomic.Bool

	// pendingSetup indicates admin credentials haven't been set yet
	// (via `campusbot init`), so API logins are impossible
	pendingSetup atomic.Bool

	startedAt time.Time

	settings   *BotSettings
	settingsMu sync.RWMutex
}

// New creates a new CampusBot from the given config. The returned bot
// hasn't connected to anything yet; call [CampusBot.Run] to start it.
func New(config *Config) (*CampusBot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	d := &CampusBot{
		config:        config,
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
		prompts:       newPromptRouter(),
	}

	d.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     d.config.LogLevel,
			AddSource: true,
		},
	)

	d.logger = slog.New(d.logHandler)
	slog.SetDefault(d.logger)

	d.config.Discord.httpClient = d.config.HTTPClient

	disc, err := newDiscord(d.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     d.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     d.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.bot = d
		d.discord = disc
	}

	mailLogger := slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     d.config.Mail.LogLevel,
				AddSource: true,
			},
		),
	)
	d.verifier = NewVerifier(
		newMailjetSender(d.config.Mail, mailLogger),
		d.config.Prompts.VerifyCooldown,
		d.logger,
	)

	api, err := newAPI(d, config.API)
	errs = append(errs, err)
	d.api = api

	return d, errors.Join(errs...)
}

func (d *CampusBot) ValidateConfig() error {
	return structValidator.Struct(d.config)
}

// BotSettings returns the current persistent settings record, if one
// has been created.
func (d *CampusBot) BotSettings() *BotSettings {
	d.settingsMu.RLock()
	defer d.settingsMu.RUnlock()
	return d.settings
}

func (d *CampusBot) setBotSettings(settings *BotSettings) {
	d.settingsMu.Lock()
	defer d.settingsMu.Unlock()
	d.settings = settings
}

// Run starts the bot: initializes the database, serves the admin API,
// connects to the Discord gateway, and registers slash commands. It
// blocks until ctx is canceled or a stop signal arrives, then shuts
// down gracefully.
func (d *CampusBot) Run(ctx context.Context) error {
	// prevents concurrent runs
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.signalStop = make(chan struct{}, 1)
	d.startedAt = time.Now()
	logger := d.logger

	if err := d.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", d.config))

	if d.signalReady == nil {
		d.signalReady = make(chan struct{}, 1)
	}

	// the 'runtime' context: canceling it triggers a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-d.signalStop:
			d.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			d.logger.Warn("context canceled, sending stop signal")
			d.signalStop <- struct{}{}
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, d.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		initErr <- d.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
	}

	go func() {
		httpErr := d.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			d.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	runtimeWG := &sync.WaitGroup{}

	d.discord.session.AddHandler(d.discord.handlerReady())
	d.discord.session.AddHandler(d.discord.handlerConnect())
	d.discord.session.AddHandler(d.discord.handlerDisconnect())
	d.discord.session.AddHandler(d.handlerGuildCreate(ctx, runtimeWG))
	d.discord.session.AddHandler(d.handlerInteractionCreate(ctx, runtimeWG))

	d.logger.InfoContext(ctx, "connecting to discord")
	if err := d.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if _, err := d.discord.registerCommands(); err != nil {
		logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
		return err
	}

	d.signalReady <- struct{}{}
	d.logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()

	return d.shutdown(runtimeWG)
}

// initRun sets up the database-backed state: opens the DB, runs
// migrations, loads bot settings, and seeds the report templates.
func (d *CampusBot) initRun(ctx context.Context) error {
	db, err := CreateDB(ctx, d.config.DatabaseType, d.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	d.db = db
	d.writeDB = NewStore(
		db,
		d.logger,
		d.config.DatabaseType == dbTypePostgres,
	)

	var settings BotSettings
	err = d.db.WithContext(ctx).Last(&settings).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		d.pendingSetup.Store(true)
		d.logger.WarnContext(
			ctx,
			"no admin credentials set, API logins disabled (run `campusbot init`)",
		)
	case err != nil:
		return err
	default:
		d.setBotSettings(&settings)
		if settings.AdminUsername == "" || settings.AdminPassword == "" {
			d.pendingSetup.Store(true)
			d.logger.WarnContext(ctx, "admin credentials incomplete, API logins disabled")
		}
	}

	return d.seedReportTemplates(ctx)
}

// seedReportTemplates inserts the default report templates if they
// don't already exist. Existing templates are left alone, so edits made
// through the database survive restarts.
func (d *CampusBot) seedReportTemplates(ctx context.Context) error {
	for _, template := range defaultReportTemplates() {
		err := d.db.WithContext(ctx).
			Where("id = ?", template.ID).
			FirstOrCreate(&template).Error
		if err != nil {
			return fmt.Errorf(
				"error seeding report template %q: %w",
				template.ID,
				err,
			)
		}
	}
	return nil
}

func (d *CampusBot) shutdown(runtimeWG *sync.WaitGroup) error {
	d.logger.Warn("shutting down")
	defer func() {
		go func() {
			d.eventShutdown <- struct{}{}
		}()
	}()

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		d.config.ShutdownTimeout,
	)
	defer cancel()

	done := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		if err := d.discord.session.Close(); err != nil {
			d.logger.Error("error closing discord session", tint.Err(err))
		}
		if d.api != nil {
			if err := d.api.Shutdown(shutdownCtx); err != nil {
				d.logger.Error("error shutting down api", tint.Err(err))
			}
		}
		done <- struct{}{}
	}()

	select {
	case <-done:
		d.logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		return errors.New("graceful shutdown timed out")
	}
}

// Pause makes the bot reject slash commands with a friendly message
// until [CampusBot.Resume] is called.
func (d *CampusBot) Pause(ctx context.Context) bool {
	previous := d.paused.Swap(true)
	if !previous {
		d.logger.WarnContext(ctx, "bot paused")
	}
	return !previous
}

// Resume reverses [CampusBot.Pause].
func (d *CampusBot) Resume(ctx context.Context) bool {
	previous := d.paused.Swap(false)
	if previous {
		d.logger.WarnContext(ctx, "bot resumed")
	}
	return previous
}

// Paused reports whether slash commands are currently being rejected.
func (d *CampusBot) Paused() bool {
	return d.paused.Load()
}

// handlerInteractionCreate dispatches incoming interactions: component
// and modal events go to the prompt router (or the persistent RSVP
// handler), slash commands to their flow handlers.
func (d *CampusBot) handlerInteractionCreate(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) func(s *discordgo.Session, i *discordgo.InteractionCreate) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		logger := d.logger.With(
			slog.Group("interaction", interactionLogAttrs(*i)...),
		)
		handlerCtx := WithLogger(ctx, logger)

		discordUser := getDiscordUser(i)
		if discordUser == nil {
			logger.ErrorContext(
				handlerCtx,
				"no user found in interaction",
				"interaction", structToSlogValue(i),
			)
			return
		}
		if discordUser.Bot {
			logger.WarnContext(handlerCtx, "user is bot, ignoring")
			return
		}

		switch i.Type {
		case discordgo.InteractionPing:
			err := d.discord.session.InteractionRespond(
				i.Interaction,
				&discordgo.InteractionResponse{
					Type: discordgo.InteractionResponsePong,
				},
			)
			if err != nil {
				logger.ErrorContext(handlerCtx, "error responding to ping", tint.Err(err))
			}
		case discordgo.InteractionMessageComponent, discordgo.InteractionModalSubmit:
			if d.prompts.dispatch(i) {
				return
			}
			customID := eventCustomID(i)
			if strings.HasPrefix(customID, eventRSVPPrefix) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					d.handleEventRSVP(handlerCtx, i, customID)
				}()
				return
			}
			logger.DebugContext(
				handlerCtx,
				"component event for finished prompt, ignoring",
				"custom_id", customID,
			)
		case discordgo.InteractionApplicationCommand:
			d.routeCommand(handlerCtx, runtimeWG, i, logger)
		}
	}
}

func (d *CampusBot) routeCommand(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
	i *discordgo.InteractionCreate,
	logger *slog.Logger,
) {
	commandName := i.ApplicationCommandData().Name
	logger.InfoContext(ctx, "received command", "command", commandName)

	if d.paused.Load() {
		err := d.discord.session.InteractionRespond(
			i.Interaction,
			ephemeralResponse("The bot is temporarily paused. Try again later!"),
		)
		if err != nil {
			logger.ErrorContext(ctx, "error sending paused response", tint.Err(err))
		}
		return
	}

	var handler func(ctx context.Context, i *discordgo.InteractionCreate) error
	switch commandName {
	case DiscordSlashCommandProfile:
		handler = d.handleProfileCommand
	case DiscordSlashCommandOfficeHours:
		handler = d.handleOfficeHoursCommand
	case DiscordSlashCommandServer:
		handler = d.handleServerCommand
	case DiscordSlashCommandEvent:
		handler = d.handleEventCommand
	case DiscordSlashCommandReport:
		handler = d.handleReportCommand
	default:
		logger.WarnContext(ctx, "unknown command", "command", commandName)
		return
	}

	// command flows block on user input, so they get their own goroutine
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if err := handler(ctx, i); err != nil {
			logger.ErrorContext(
				ctx,
				"command failed",
				"command", commandName,
				tint.Err(err),
			)
		}
	}()
}

// handlerGuildCreate bootstraps a guild record when the bot joins (or
// reconnects to) a guild, and reconciles existing records against the
// current template.
func (d *CampusBot) handlerGuildCreate(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) func(s *discordgo.Session, g *discordgo.GuildCreate) {
	return func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			logger := d.logger.With("guild_id", g.ID, "guild_name", g.Name)
			if _, err := d.getOrCreateGuild(WithLogger(ctx, logger), g.ID); err != nil {
				logger.ErrorContext(ctx, "error bootstrapping guild", tint.Err(err))
			}
		}()
	}
}

// getOrCreateGuild loads the guild's document, creating it if this is
// the first time the bot has seen the guild. Existing documents are
// synced against the current template, with drift logged but not fatal.
func (d *CampusBot) getOrCreateGuild(ctx context.Context, guildID string) (
	*Guild,
	error,
) {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = d.logger
	}

	guild := &Guild{}
	found, err := d.writeDB.Get(ctx, guild, guildID)
	if err != nil {
		return nil, err
	}
	if !found {
		guild = NewGuild(guildID)
		if err = d.writeDB.Add(ctx, guild); err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "created guild record", "guild_id", guildID)
		return guild, nil
	}

	err = d.writeDB.SyncWithTemplate(ctx, guild)
	if err != nil {
		var drift SchemaDriftError
		if errors.As(err, &drift) {
			logger.WarnContext(
				ctx,
				"guild document has undeclared fields",
				"guild_id", guildID,
				"fields", drift.Fields,
			)
			return guild, nil
		}
		return nil, err
	}
	return guild, nil
}
