package campusbot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// SelectGroup is one dropdown in a [SelectPrompt]. The zero MenuType is
// a string select; channel and role selects carry their options
// implicitly. MinValues of 0 makes the group skippable.
type SelectGroup struct {
	Key          string
	Placeholder  string
	MenuType     discordgo.SelectMenuType
	MinValues    int
	MaxValues    int
	Options      []discordgo.SelectMenuOption
	ChannelTypes []discordgo.ChannelType
}

// SelectPrompt collects choices from one or more dropdowns on a single
// message. With exactly one group and no confirmation requested, the
// first selection completes the prompt; otherwise accept/cancel buttons
// gate completion, since Discord sends an event per dropdown and
// there's no other way to know the user is done.
type SelectPrompt struct {
	session    *promptSession
	content    string
	groups     []SelectGroup
	buttons    bool
	selections map[string][]string
}

// newSelectPrompt builds a select prompt, enforcing Discord's component
// limits up front: at most 25 options per group, at most 5 groups, and
// at most 4 groups when confirmation buttons are attached (the buttons
// take the fifth row). Violations return [ErrLimitExceeded].
func (d *CampusBot) newSelectPrompt(
	content string,
	confirm bool,
	groups ...SelectGroup,
) (*SelectPrompt, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("select prompt requires at least one group")
	}
	buttons := confirm || len(groups) > 1

	if len(groups) > maxComponentRows {
		return nil, fmt.Errorf(
			"%w: %d choice groups (max %d)",
			ErrLimitExceeded,
			len(groups),
			maxComponentRows,
		)
	}
	if buttons && len(groups) > maxComponentRows-1 {
		return nil, fmt.Errorf(
			"%w: %d choice groups with confirmation buttons (max %d)",
			ErrLimitExceeded,
			len(groups),
			maxComponentRows-1,
		)
	}
	for _, group := range groups {
		if len(group.Options) > maxSelectOptions {
			return nil, fmt.Errorf(
				"%w: group %q has %d options (max %d)",
				ErrLimitExceeded,
				group.Key,
				len(group.Options),
				maxSelectOptions,
			)
		}
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
	return &SelectPrompt{
		session:    session,
		content:    content,
		groups:     groups,
		buttons:    buttons,
		selections: map[string][]string{},
	}, nil
}

// WithTimeout overrides the prompt's timeout.
func (p *SelectPrompt) WithTimeout(timeout time.Duration) *SelectPrompt {
	p.session.timeout = timeout
	return p
}

func (p *SelectPrompt) components() []discordgo.MessageComponent {
	rows := make([]discordgo.MessageComponent, 0, len(p.groups)+1)
	for i := range p.groups {
		group := p.groups[i]
		minValues := group.MinValues
		maxValues := group.MaxValues
		if maxValues == 0 {
			maxValues = 1
		}
		menu := discordgo.SelectMenu{
			MenuType:    group.MenuType,
			CustomID:    p.session.customID(promptActionSelect + ":" + group.Key),
			Placeholder: group.Placeholder,
			MinValues:   &minValues,
			MaxValues:   maxValues,
			Options:     group.Options,
		}
		if len(group.ChannelTypes) > 0 {
			menu.ChannelTypes = group.ChannelTypes
		}
		rows = append(
			rows,
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{menu}},
		)
	}
	if p.buttons {
		rows = append(
			rows, discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Accept",
						Style:    discordgo.PrimaryButton,
						CustomID: p.session.customID(promptActionAccept),
					},
					discordgo.Button{
						Label:    "Cancel",
						Style:    discordgo.SecondaryButton,
						CustomID: p.session.customID(promptActionCancel),
					},
				},
			},
		)
	}
	return rows
}

// result returns the recorded selections. Groups the user never touched
// are absent; a group cleared to nothing is present with no values, so
// callers can tell "untouched" from "deliberately emptied".
func (p *SelectPrompt) result() map[string][]string {
	result := map[string][]string{}
	for key, values := range p.selections {
		result[key] = values
	}
	return result
}

// Start presents the prompt and blocks until the user accepts, cancels,
// or the prompt times out. A nil result with a nil error means the user
// declined or didn't respond in time; the returned anchor can seed the
// next prompt in a chain.
func (p *SelectPrompt) Start(ctx context.Context, origin PromptOrigin) (
	map[string][]string,
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

	for {
		select {
		case <-ctx.Done():
			p.session.conclude(nil, promptStateCancelled, promptMessageCancelled)
			return nil, p.session.Anchor(), ctx.Err()
		case <-timer.C:
			p.session.conclude(nil, promptStateTimedOut, promptMessageTimedOut)
			return nil, p.session.Anchor(), nil
		case event := <-p.session.events:
			action := eventAction(event)
			switch {
			case strings.HasPrefix(action, promptActionSelect+":"):
				key := strings.TrimPrefix(action, promptActionSelect+":")
				p.selections[key] = event.MessageComponentData().Values
				if p.buttons {
					p.session.ackUpdate(event)
					continue
				}
				// single group, no confirmation: first selection wins
				if p.session.conclude(event, promptStateCompleted, promptMessageSaved) {
					return p.result(), p.session.Anchor(), nil
				}
			case action == promptActionAccept:
				if p.session.conclude(event, promptStateCompleted, promptMessageSaved) {
					return p.result(), p.session.Anchor(), nil
				}
			case action == promptActionCancel:
				if p.session.conclude(event, promptStateCancelled, promptMessageCancelled) {
					return nil, p.session.Anchor(), nil
				}
			default:
				p.session.logger.Warn(
					"unexpected prompt action",
					"action", action,
				)
				p.session.ackUpdate(event)
			}
		}
	}
}
