package campusbot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// FormField is one text input in a [FormPrompt]. Value pre-fills the
// input, which is how update flows show current data and how failed
// submissions keep the user's prior entries.
type FormField struct {
	Key         string
	Label       string
	Style       discordgo.TextInputStyle
	Placeholder string
	Value       string
	Required    bool
	MinLength   int
	MaxLength   int
}

// FormPrompt collects labeled text fields through a modal. Discord only
// opens modals in direct response to a command or component
// interaction, so when the origin is an anchor the prompt first shows a
// trigger button there.
//
// A Validate hook runs on each submission; returning a
// [ValidationError] keeps the session open and lets the user resubmit
// with their prior entries pre-filled.
type FormPrompt struct {
	session        *promptSession
	title          string
	fields         []FormField
	triggerLabel   string
	triggerContent string
	Validate       func(values map[string]string) error
}

func (d *CampusBot) newFormPrompt(
	title string,
	fields ...FormField,
) (*FormPrompt, error) {
	if len(fields) == 0 {
		return nil, errors.New("form prompt requires at least one field")
	}
	if len(fields) > maxModalFields {
		return nil, fmt.Errorf(
			"%w: %d form fields (max %d)",
			ErrLimitExceeded,
			len(fields),
			maxModalFields,
		)
	}
	session, err := newPromptSession(
		d.discord,
		d.prompts,
		d.logger,
		d.config.Prompts.Timeout,
	)
	if err != nil {
		return nil, err
	}
	return &FormPrompt{
		session:        session,
		title:          title,
		fields:         fields,
		triggerLabel:   "Open form",
		triggerContent: "Click below to continue.",
	}, nil
}

// WithTimeout overrides the prompt's timeout.
func (p *FormPrompt) WithTimeout(timeout time.Duration) *FormPrompt {
	p.session.timeout = timeout
	return p
}

// WithTrigger sets the content and button label shown on the anchor
// when the form can't be opened directly.
func (p *FormPrompt) WithTrigger(content string, label string) *FormPrompt {
	p.triggerContent = content
	p.triggerLabel = label
	return p
}

func (p *FormPrompt) modalResponse() *discordgo.InteractionResponse {
	rows := make([]discordgo.MessageComponent, 0, len(p.fields))
	for _, field := range p.fields {
		style := field.Style
		if style == 0 {
			style = discordgo.TextInputShort
		}
		rows = append(
			rows, discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    field.Key,
						Label:       field.Label,
						Style:       style,
						Placeholder: field.Placeholder,
						Value:       field.Value,
						Required:    field.Required,
						MinLength:   field.MinLength,
						MaxLength:   field.MaxLength,
					},
				},
			},
		)
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   p.session.customID(promptActionSubmit),
			Title:      p.title,
			Components: rows,
		},
	}
}

func (p *FormPrompt) triggerComponents(label string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    label,
					Style:    discordgo.PrimaryButton,
					CustomID: p.session.customID(promptActionOpenForm),
				},
			},
		},
	}
}

func (p *FormPrompt) openModal(i *discordgo.InteractionCreate) {
	err := p.session.discord.session.InteractionRespond(
		i.Interaction,
		p.modalResponse(),
	)
	if err != nil {
		p.session.logger.Error("error opening modal", tint.Err(err))
	}
}

// rememberValues pre-fills the form with a prior submission, so a
// rejected form reopens with the user's entries intact.
func (p *FormPrompt) rememberValues(values map[string]string) {
	for i := range p.fields {
		if value, ok := values[p.fields[i].Key]; ok {
			p.fields[i].Value = value
		}
	}
}

// showValidationError surfaces a rejected submission on the anchor with
// a retry button, creating the anchor if the form was opened straight
// from a slash command.
func (p *FormPrompt) showValidationError(
	event *discordgo.InteractionCreate,
	message string,
) {
	content := fmt.Sprintf("%s Use the button below to try again.", message)
	components := p.triggerComponents("Try again")

	if p.session.Anchor() == nil {
		if err := p.session.respondWithAnchor(event, content, components); err != nil {
			p.session.logger.Error(
				"error showing validation error",
				tint.Err(err),
			)
		}
		return
	}
	p.session.ackUpdate(event)
	if err := p.session.editAnchor(content, components); err != nil {
		p.session.logger.Error("error showing validation error", tint.Err(err))
	}
}

// Start presents the form and blocks until a valid submission or the
// timeout. A nil result with a nil error means the user never finished.
func (p *FormPrompt) Start(ctx context.Context, origin PromptOrigin) (
	map[string]string,
	*Anchor,
	error,
) {
	p.session.begin()

	switch {
	case origin.Interaction != nil:
		// modals can be pushed directly onto a fresh interaction
		p.openModal(origin.Interaction)
	case origin.Anchor != nil:
		err := p.session.present(
			origin,
			p.triggerContent,
			p.triggerComponents(p.triggerLabel),
		)
		if err != nil {
			p.session.transition(promptStateCancelled)
			return nil, p.session.Anchor(), err
		}
	default:
		p.session.transition(promptStateCancelled)
		return nil, nil, errors.New("prompt origin has neither interaction nor anchor")
	}

	timer := time.NewTimer(p.session.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.session.conclude(nil, promptStateCancelled, promptMessageCancelled)
			return nil, p.session.Anchor(), ctx.Err()
		case <-timer.C:
			p.session.conclude(nil, promptStateTimedOut, promptMessageTimedOut)
			return nil, p.session.Anchor(), nil
		case event := <-p.session.events:
			switch eventAction(event) {
			case promptActionOpenForm:
				p.openModal(event)
			case promptActionSubmit:
				values := extractModalValues(event)
				p.rememberValues(values)
				if p.Validate != nil {
					if err := p.Validate(values); err != nil {
						var validationErr ValidationError
						if !errors.As(err, &validationErr) {
							validationErr = ValidationError{Message: err.Error()}
						}
						p.session.logger.Info(
							"form submission rejected",
							"reason", validationErr.Error(),
						)
						p.showValidationError(event, validationErr.Message)
						continue
					}
				}
				if p.session.conclude(event, promptStateCompleted, promptMessageSaved) {
					return values, p.session.Anchor(), nil
				}
			default:
				p.session.ackUpdate(event)
			}
		}
	}
}

// extractModalValues walks a modal submission's component rows and
// returns the text input values keyed by field.
func extractModalValues(i *discordgo.InteractionCreate) map[string]string {
	values := map[string]string{}
	if i.Type != discordgo.InteractionModalSubmit {
		return values
	}
	for _, row := range i.ModalSubmitData().Components {
		var components []discordgo.MessageComponent
		switch r := row.(type) {
		case *discordgo.ActionsRow:
			components = r.Components
		case discordgo.ActionsRow:
			components = r.Components
		default:
			continue
		}
		for _, component := range components {
			switch input := component.(type) {
			case *discordgo.TextInput:
				values[input.CustomID] = input.Value
			case discordgo.TextInput:
				values[input.CustomID] = input.Value
			}
		}
	}
	return values
}
