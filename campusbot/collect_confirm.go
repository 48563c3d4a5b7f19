package campusbot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ConfirmPrompt asks a yes/no question with a pair of buttons.
type ConfirmPrompt struct {
	session     *promptSession
	content     string
	acceptLabel string
	cancelLabel string
	acceptStyle discordgo.ButtonStyle
}

func (d *CampusBot) newConfirmPrompt(content string) (*ConfirmPrompt, error) {
	session, err := newPromptSession(
		d.discord,
		d.prompts,
		d.logger,
		d.config.Prompts.Timeout,
	)
	if err != nil {
		return nil, err
	}
	return &ConfirmPrompt{
		session:     session,
		content:     content,
		acceptLabel: "Accept",
		cancelLabel: "Cancel",
		acceptStyle: discordgo.PrimaryButton,
	}, nil
}

// Destructive styles the accept button as a red "Delete"-type action.
func (p *ConfirmPrompt) Destructive(label string) *ConfirmPrompt {
	p.acceptLabel = label
	p.acceptStyle = discordgo.DangerButton
	return p
}

// WithTimeout overrides the prompt's timeout.
func (p *ConfirmPrompt) WithTimeout(timeout time.Duration) *ConfirmPrompt {
	p.session.timeout = timeout
	return p
}

func (p *ConfirmPrompt) components() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    p.acceptLabel,
					Style:    p.acceptStyle,
					CustomID: p.session.customID(promptActionAccept),
				},
				discordgo.Button{
					Label:    p.cancelLabel,
					Style:    discordgo.SecondaryButton,
					CustomID: p.session.customID(promptActionCancel),
				},
			},
		},
	}
}

// Start presents the prompt and blocks for a decision. The result is
// nil when the prompt times out, distinguishing "no answer" from an
// explicit cancel.
func (p *ConfirmPrompt) Start(ctx context.Context, origin PromptOrigin) (
	*bool,
	*Anchor,
	error,
) {
	p.session.begin()
	if err := p.session.present(origin, p.content, p.components()); err != nil {
		p.session.transition(promptStateCancelled)
		return nil, p.session.Anchor(), err
	}

	timer := time.NewTimer(p.session.timeout)
	defer timer.Stop()

	accepted := true
	declined := false

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
			case promptActionAccept:
				if p.session.conclude(event, promptStateCompleted, promptMessageSaved) {
					return &accepted, p.session.Anchor(), nil
				}
			case promptActionCancel:
				if p.session.conclude(event, promptStateCancelled, promptMessageCancelled) {
					return &declined, p.session.Anchor(), nil
				}
			default:
				p.session.ackUpdate(event)
			}
		}
	}
}
