package campusbot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// eventRSVPPrefix marks the persistent RSVP buttons under event
	// announcements. Unlike prompt custom IDs, these survive restarts.
	eventRSVPPrefix = "rsvp:"

	eventDatetimeLayout = "2006-01-02 15:04"

	eventFieldName        = "name"
	eventFieldDatetime    = "datetime"
	eventFieldLocation    = "location"
	eventFieldDescription = "description"

	rsvpYes   = "yes"
	rsvpMaybe = "maybe"
	rsvpNo    = "no"
)

func validateEventForm(values map[string]string) error {
	raw := strings.TrimSpace(values[eventFieldDatetime])
	when, err := time.Parse(eventDatetimeLayout, raw)
	if err != nil {
		return ValidationError{
			Field: eventFieldDatetime,
			Message: fmt.Sprintf(
				"Date must look like `%s` (24-hour time).",
				eventDatetimeLayout,
			),
		}
	}
	if when.Before(time.Now().Add(-24 * time.Hour)) {
		return ValidationError{
			Field:   eventFieldDatetime,
			Message: "That date is in the past.",
		}
	}
	return nil
}

func (d *CampusBot) handleEventCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if i.GuildID == "" {
		d.respondEphemeral(
			ctx,
			i,
			"Events can only be managed from within a server.",
		)
		return nil
	}
	switch subcommand(i) {
	case "create":
		return d.eventCreate(ctx, i)
	case "list":
		return d.eventList(ctx, i)
	default:
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return nil
	}
}

func (d *CampusBot) eventCreate(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	logger := d.commandLogger(ctx, DiscordSlashCommandEvent)
	ctx = WithLogger(ctx, logger)

	form, err := d.newFormPrompt(
		"Create an event",
		FormField{
			Key:       eventFieldName,
			Label:     "Event name",
			Required:  true,
			MaxLength: 100,
		},
		FormField{
			Key:         eventFieldDatetime,
			Label:       "When",
			Placeholder: eventDatetimeLayout,
			Required:    true,
			MinLength:   len(eventDatetimeLayout),
			MaxLength:   len(eventDatetimeLayout),
		},
		FormField{
			Key:       eventFieldLocation,
			Label:     "Where",
			Required:  true,
			MaxLength: 100,
		},
		FormField{
			Key:       eventFieldDescription,
			Label:     "Description",
			Style:     discordgo.TextInputParagraph,
			MaxLength: 1000,
		},
	)
	if err != nil {
		return err
	}
	form.Validate = validateEventForm

	values, anchor, err := form.Start(ctx, OriginFromInteraction(i))
	if err != nil || values == nil {
		return err
	}

	event, err := NewEvent(i.GuildID)
	if err != nil {
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}
	if err = d.writeDB.Add(ctx, event); err != nil {
		logger.ErrorContext(ctx, "error creating event", tint.Err(err))
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}

	changes := map[string]any{
		"details__name":        strings.TrimSpace(values[eventFieldName]),
		"details__datetime":    strings.TrimSpace(values[eventFieldDatetime]),
		"details__location":    strings.TrimSpace(values[eventFieldLocation]),
		"details__description": strings.TrimSpace(values[eventFieldDescription]),
	}
	if err = d.writeDB.Update(ctx, event, changes); err != nil {
		logger.ErrorContext(ctx, "error saving event details", tint.Err(err))
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}

	// announce to the configured channel, falling back to wherever the
	// command was run
	guild, err := d.getOrCreateGuild(ctx, i.GuildID)
	if err != nil {
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}
	channelID := i.ChannelID
	if channels, channelsErr := guild.Channels(); channelsErr == nil &&
		channels.Announcements != "" {
		channelID = channels.Announcements
	}

	embed, err := eventEmbed(event)
	if err != nil {
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}
	msg, err := d.discord.session.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: eventRSVPComponents(event.ID),
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "error announcing event", tint.Err(err))
		d.finishAnchor(
			ctx,
			anchor,
			"The event was created, but the announcement couldn't be posted. "+
				"Check the bot's permissions.",
		)
		return err
	}

	if err = d.writeDB.Update(
		ctx,
		event,
		map[string]any{fieldEventMessageID: msg.ID},
	); err != nil {
		logger.ErrorContext(ctx, "error recording announcement", tint.Err(err))
	}
	if appendUnique(guild.Data, "events", event.ID) {
		if err = d.writeDB.Save(ctx, guild); err != nil {
			logger.ErrorContext(ctx, "error linking event to guild", tint.Err(err))
		}
	}

	logger.InfoContext(
		ctx,
		"event created",
		"event_id", event.ID,
		"channel_id", channelID,
	)
	d.finishAnchor(
		ctx,
		anchor,
		fmt.Sprintf("Event created and announced in <#%s>!", channelID),
	)
	return nil
}

func eventRSVPComponents(eventID string) []discordgo.MessageComponent {
	button := func(label string, style discordgo.ButtonStyle, choice string) discordgo.Button {
		return discordgo.Button{
			Label:    label,
			Style:    style,
			CustomID: fmt.Sprintf("%s%s:%s", eventRSVPPrefix, choice, eventID),
		}
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				button("Going", discordgo.SuccessButton, rsvpYes),
				button("Maybe", discordgo.SecondaryButton, rsvpMaybe),
				button("Can't make it", discordgo.DangerButton, rsvpNo),
			},
		},
	}
}

func (d *CampusBot) eventList(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	events, err := d.writeDB.ListEvents(ctx, i.GuildID)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	if len(events) == 0 {
		d.respondEphemeral(
			ctx,
			i,
			"No events yet. Use `/event create` to make one!",
		)
		return nil
	}

	fields := make([]*discordgo.MessageEmbedField, 0, len(events))
	for idx := range events {
		details, detailsErr := events[idx].Details()
		if detailsErr != nil {
			continue
		}
		lines := []string{
			fmt.Sprintf("When: %s", details.Datetime),
			fmt.Sprintf("Where: %s", details.Location),
			fmt.Sprintf(
				"Going: %d / Maybe: %d / No: %d",
				details.Reactions.Yes,
				details.Reactions.Maybe,
				details.Reactions.No,
			),
		}
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:  details.Name,
				Value: strings.Join(lines, "\n"),
			},
		)
	}
	d.respondEphemeralEmbed(
		ctx, i, &discordgo.MessageEmbed{
			Title:  "Events",
			Fields: fields,
		},
	)
	return nil
}

// handleEventRSVP handles the persistent buttons under event
// announcements. Each member has one standing response; pressing
// another button changes it.
func (d *CampusBot) handleEventRSVP(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	customID string,
) {
	logger := d.commandLogger(ctx, "rsvp")
	ctx = WithLogger(ctx, logger)

	parts := strings.Split(customID, ":")
	if len(parts) != 3 {
		logger.WarnContext(ctx, "malformed rsvp custom id", "custom_id", customID)
		return
	}
	choice, eventID := parts[1], parts[2]
	switch choice {
	case rsvpYes, rsvpMaybe, rsvpNo:
	default:
		logger.WarnContext(ctx, "unknown rsvp choice", "choice", choice)
		return
	}

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		return
	}

	event := &Event{}
	found, err := d.writeDB.Get(ctx, event, eventID)
	if err != nil || !found {
		logger.WarnContext(
			ctx,
			"rsvp for unknown event",
			"event_id", eventID,
			tint.Err(err),
		)
		d.respondEphemeral(ctx, i, "That event no longer exists.")
		return
	}

	counts, err := d.recordRSVP(ctx, event, discordUser.ID, choice)
	if err != nil {
		logger.ErrorContext(ctx, "error recording rsvp", tint.Err(err))
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return
	}

	// refresh the announcement's embed with the new counts
	if event.MessageID != "" {
		embed, embedErr := eventEmbed(event)
		if embedErr == nil {
			_, editErr := d.discord.session.ChannelMessageEditComplex(
				&discordgo.MessageEdit{
					ID:      event.MessageID,
					Channel: i.ChannelID,
					Embeds:  &[]*discordgo.MessageEmbed{embed},
				},
			)
			if editErr != nil {
				logger.WarnContext(ctx, "error updating announcement", tint.Err(editErr))
			}
		}
	}

	// track the event on the member's own document, if they have one
	if user, userErr := d.loadUser(ctx, i); userErr == nil && user != nil {
		if appendUnique(user.Data, "events", eventID) {
			if saveErr := d.writeDB.Save(ctx, user); saveErr != nil {
				logger.WarnContext(ctx, "error linking event to user", tint.Err(saveErr))
			}
		}
	}

	logger.InfoContext(
		ctx,
		"rsvp recorded",
		"event_id", eventID,
		"choice", choice,
		"yes", counts[rsvpYes],
		"maybe", counts[rsvpMaybe],
		"no", counts[rsvpNo],
	)

	var reply string
	switch choice {
	case rsvpYes:
		reply = "You're marked as going!"
	case rsvpMaybe:
		reply = "You're marked as a maybe."
	default:
		reply = "You're marked as not going."
	}
	d.respondEphemeral(ctx, i, reply)
}

// recordRSVP sets the member's standing response on the event and
// recomputes the reaction counts from the attendee list.
func (d *CampusBot) recordRSVP(
	ctx context.Context,
	event *Event,
	userID string,
	choice string,
) (map[string]int, error) {
	attendees, _ := event.Data[fieldEventUsers].([]any)
	updated := make([]any, 0, len(attendees)+1)
	for _, raw := range attendees {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if id, _ := entry["user_id"].(string); id == userID {
			continue
		}
		updated = append(updated, raw)
	}
	updated = append(
		updated,
		map[string]any{"user_id": userID, "choice": choice},
	)

	counts := map[string]int{}
	for _, raw := range updated {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if c, _ := entry["choice"].(string); c != "" {
			counts[c]++
		}
	}

	changes := map[string]any{
		fieldEventUsers:             updated,
		"details__reactions__yes":   float64(counts[rsvpYes]),
		"details__reactions__maybe": float64(counts[rsvpMaybe]),
		"details__reactions__no":    float64(counts[rsvpNo]),
	}
	if err := d.writeDB.Update(ctx, event, changes); err != nil {
		return nil, err
	}
	return counts, nil
}

func eventEmbed(event *Event) (*discordgo.MessageEmbed, error) {
	details, err := event.Details()
	if err != nil {
		return nil, err
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "When", Value: details.Datetime, Inline: true},
		{Name: "Where", Value: details.Location, Inline: true},
		{
			Name: "RSVPs",
			Value: fmt.Sprintf(
				"Going: %d / Maybe: %d / No: %d",
				details.Reactions.Yes,
				details.Reactions.Maybe,
				details.Reactions.No,
			),
		},
	}

	return &discordgo.MessageEmbed{
		Title:       details.Name,
		Description: details.Description,
		Fields:      fields,
	}, nil
}
