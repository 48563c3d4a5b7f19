package campusbot

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// promptState tracks the lifecycle of a single interactive prompt.
// A prompt moves from idle to awaiting input when shown, and from
// awaiting input to exactly one terminal state.
type promptState string

const (
	promptStateIdle          promptState = "idle"
	promptStateAwaitingInput promptState = "awaiting_input"
	promptStateCompleted     promptState = "completed"
	promptStateCancelled     promptState = "cancelled"
	promptStateTimedOut      promptState = "timed_out"
)

func (s promptState) String() string {
	return string(s)
}

const (
	promptActionAccept   = "accept"
	promptActionCancel   = "cancel"
	promptActionOpenForm = "open_form"
	promptActionSubmit   = "submit"
	promptActionSelect   = "select"

	promptMessageTimedOut  = "Timed out waiting for a response."
	promptMessageCancelled = "Cancelled."
	promptMessageSaved     = "Got it!"

	maxSelectOptions  = 25
	maxComponentRows  = 5
	maxModalFields    = 5
	promptEventBuffer = 4
)

// Anchor is the ephemeral status message a chain of prompts shares.
// Interaction is the interaction whose response the message is; edits
// go through its webhook token.
type Anchor struct {
	Interaction *discordgo.Interaction
	Message     *discordgo.Message
}

// PromptOrigin is where a prompt is presented from: either a fresh
// interaction (slash command or component click) that hasn't been
// responded to yet, or the anchor left behind by a previous prompt.
type PromptOrigin struct {
	Interaction *discordgo.InteractionCreate
	Anchor      *Anchor
}

func OriginFromInteraction(i *discordgo.InteractionCreate) PromptOrigin {
	return PromptOrigin{Interaction: i}
}

func OriginFromAnchor(a *Anchor) PromptOrigin {
	return PromptOrigin{Anchor: a}
}

// promptRouter delivers component and modal-submit interactions to the
// prompt session waiting on them. Custom IDs are prefixed with the
// session ID ("<session>:<action>"); events for unknown or finished
// sessions are dropped.
type promptRouter struct {
	mu       sync.Mutex
	sessions map[string]chan *discordgo.InteractionCreate
}

func newPromptRouter() *promptRouter {
	return &promptRouter{
		sessions: map[string]chan *discordgo.InteractionCreate{},
	}
}

func (r *promptRouter) register(id string) chan *discordgo.InteractionCreate {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan *discordgo.InteractionCreate, promptEventBuffer)
	r.sessions[id] = ch
	return ch
}

func (r *promptRouter) unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// dispatch routes an interaction to its waiting session, returning
// whether a session claimed it. The send is non-blocking: a session
// that's already finishing just misses the event, which is the
// desired behavior for late clicks.
func (r *promptRouter) dispatch(i *discordgo.InteractionCreate) bool {
	customID := eventCustomID(i)
	if customID == "" {
		return false
	}
	sessionID, _, found := strings.Cut(customID, ":")
	if !found {
		return false
	}

	r.mu.Lock()
	ch, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- i:
	default:
	}
	return true
}

func eventCustomID(i *discordgo.InteractionCreate) string {
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		return i.MessageComponentData().CustomID
	case discordgo.InteractionModalSubmit:
		return i.ModalSubmitData().CustomID
	default:
		return ""
	}
}

// eventAction strips the session ID prefix from an event's custom ID.
func eventAction(i *discordgo.InteractionCreate) string {
	_, action, _ := strings.Cut(eventCustomID(i), ":")
	return action
}

// promptSession is the shared machinery behind every prompt primitive:
// a randomly-assigned session ID, an event channel registered with the
// router, a timeout, and a mutex-guarded state machine. The first
// terminal transition wins; whichever event loses the race is ignored.
type promptSession struct {
	id      string
	discord *Discord
	router  *promptRouter
	logger  *slog.Logger
	events  chan *discordgo.InteractionCreate
	timeout time.Duration

	mu     sync.Mutex
	state  promptState
	anchor *Anchor
}

func newPromptSession(
	d *Discord,
	router *promptRouter,
	logger *slog.Logger,
	timeout time.Duration,
) (*promptSession, error) {
	id, err := generateRandomHexString(8)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &promptSession{
		id:      id,
		discord: d,
		router:  router,
		logger:  logger.With("prompt_session", id),
		state:   promptStateIdle,
		timeout: timeout,
	}, nil
}

func (p *promptSession) customID(action string) string {
	return fmt.Sprintf(customIDFormat, p.id, action)
}

func (p *promptSession) begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = promptStateAwaitingInput
	p.events = p.router.register(p.id)
}

// transition moves the session into a terminal state. Returns false if
// the session already reached a terminal state, in which case the
// caller must drop whatever triggered it.
func (p *promptSession) transition(to promptState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != promptStateAwaitingInput {
		return false
	}
	p.state = to
	p.router.unregister(p.id)
	p.logger.Debug("prompt finished", "state", to.String())
	return true
}

func (p *promptSession) State() promptState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *promptSession) Anchor() *Anchor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.anchor
}

func (p *promptSession) setAnchor(a *Anchor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.anchor = a
}

// ackUpdate acknowledges a component or modal event without visibly
// changing anything.
func (p *promptSession) ackUpdate(i *discordgo.InteractionCreate) {
	err := p.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		},
	)
	if err != nil {
		p.logger.Warn("error acknowledging interaction", tint.Err(err))
	}
}

// present shows the prompt's content and components. A fresh
// interaction gets a new ephemeral response, which becomes the anchor;
// an existing anchor is edited in place.
func (p *promptSession) present(
	origin PromptOrigin,
	content string,
	components []discordgo.MessageComponent,
) error {
	if origin.Interaction != nil {
		return p.respondWithAnchor(origin.Interaction, content, components)
	}
	if origin.Anchor == nil {
		return errors.New("prompt origin has neither interaction nor anchor")
	}
	p.setAnchor(origin.Anchor)
	return p.editAnchor(content, components)
}

// respondWithAnchor responds to an interaction with a new ephemeral
// message and records it as the session's anchor.
func (p *promptSession) respondWithAnchor(
	i *discordgo.InteractionCreate,
	content string,
	components []discordgo.MessageComponent,
) error {
	err := p.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content:    truncate(content, discordMaxMessageLength),
				Components: components,
				Flags:      discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		return err
	}
	msg, err := p.discord.session.InteractionResponse(i.Interaction)
	if err != nil {
		p.logger.Warn("error fetching interaction response", tint.Err(err))
	}
	p.setAnchor(&Anchor{Interaction: i.Interaction, Message: msg})
	return nil
}

func (p *promptSession) editAnchor(
	content string,
	components []discordgo.MessageComponent,
) error {
	anchor := p.Anchor()
	if anchor == nil {
		return errors.New("no anchor to edit")
	}
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	content = truncate(content, discordMaxMessageLength)
	_, err := p.discord.session.InteractionResponseEdit(
		anchor.Interaction,
		&discordgo.WebhookEdit{
			Content:    &content,
			Components: &components,
		},
	)
	return err
}

// conclude performs the terminal transition and the single anchor
// rewrite that goes with it: status content, components removed. Returns
// false if another event already won the race (the event is dropped).
// event is nil for timer and context expirations.
func (p *promptSession) conclude(
	event *discordgo.InteractionCreate,
	to promptState,
	content string,
) bool {
	if !p.transition(to) {
		return false
	}

	if p.Anchor() == nil {
		// no anchor yet (ex: a form shown directly from a slash command
		// that was never submitted). If the terminal event is an
		// interaction, its response becomes the anchor; otherwise
		// there's nothing to rewrite.
		if event != nil {
			if err := p.respondWithAnchor(event, content, nil); err != nil {
				p.logger.Error("error responding with anchor", tint.Err(err))
			}
		}
		return true
	}

	if event != nil {
		p.ackUpdate(event)
	}
	if err := p.editAnchor(content, nil); err != nil {
		p.logger.Error("error rewriting anchor", tint.Err(err))
	}
	return true
}
