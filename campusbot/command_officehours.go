package campusbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// weekDays lists the schedule days in display order. The edit flow
// splits them across two prompts: four dropdowns plus confirmation
// buttons is the most that fits on one message.
var weekDays = []string{
	"Sunday",
	"Monday",
	"Tuesday",
	"Wednesday",
	"Thursday",
	"Friday",
	"Saturday",
}

// timeSlots lists the selectable hour blocks, 8 AM through 11 PM.
var timeSlots = []string{
	"8:00 AM",
	"9:00 AM",
	"10:00 AM",
	"11:00 AM",
	"12:00 PM",
	"1:00 PM",
	"2:00 PM",
	"3:00 PM",
	"4:00 PM",
	"5:00 PM",
	"6:00 PM",
	"7:00 PM",
	"8:00 PM",
	"9:00 PM",
	"10:00 PM",
	"11:00 PM",
}

func timeSlotOptions(selected []string) []discordgo.SelectMenuOption {
	current := map[string]bool{}
	for _, slot := range selected {
		current[slot] = true
	}
	options := make([]discordgo.SelectMenuOption, 0, len(timeSlots))
	for _, slot := range timeSlots {
		options = append(
			options, discordgo.SelectMenuOption{
				Label:   slot,
				Value:   slot,
				Default: current[slot],
			},
		)
	}
	return options
}

// sortTimeSlots returns the given slots in chronological order,
// dropping anything that isn't a known slot.
func sortTimeSlots(slots []string) []string {
	picked := map[string]bool{}
	for _, slot := range slots {
		picked[slot] = true
	}
	ordered := make([]string, 0, len(slots))
	for _, slot := range timeSlots {
		if picked[slot] {
			ordered = append(ordered, slot)
		}
	}
	return ordered
}

func (d *CampusBot) handleOfficeHoursCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if i.GuildID == "" {
		d.respondEphemeral(
			ctx,
			i,
			"Office hours can only be managed from within a server.",
		)
		return nil
	}
	switch subcommand(i) {
	case "edit":
		return d.officeHoursEdit(ctx, i)
	case "show":
		return d.officeHoursShow(ctx, i)
	case "announce":
		return d.officeHoursAnnounce(ctx, i)
	case "clear":
		return d.officeHoursClear(ctx, i)
	default:
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return nil
	}
}

// daySelectGroups builds one skippable dropdown per day, pre-selecting
// the member's current schedule.
func daySelectGroups(
	days []string,
	schedule map[string][]string,
) []SelectGroup {
	groups := make([]SelectGroup, 0, len(days))
	for _, day := range days {
		groups = append(
			groups, SelectGroup{
				Key:         strings.ToLower(day),
				Placeholder: day,
				MinValues:   0,
				MaxValues:   len(timeSlots),
				Options:     timeSlotOptions(schedule[day]),
			},
		)
	}
	return groups
}

func (d *CampusBot) officeHoursEdit(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	logger := d.commandLogger(ctx, DiscordSlashCommandOfficeHours)
	ctx = WithLogger(ctx, logger)
	discordUser := getDiscordUser(i)

	user, err := d.loadUser(ctx, i)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	if user == nil || !user.HasProfile() {
		d.respondEphemeral(
			ctx,
			i,
			"You need a profile before setting office hours. "+
				"Use `/profile create` first!",
		)
		return nil
	}
	profile, err := user.Profile()
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}

	guild, err := d.getOrCreateGuild(ctx, i.GuildID)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	entries, err := guild.OfficeHours()
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}

	current := map[string][]string{}
	for _, entry := range entries {
		if entry.UserID == discordUser.ID {
			current = entry.Schedule
			break
		}
	}

	// Sunday through Wednesday, then Thursday through Saturday
	firstHalf, err := d.newSelectPrompt(
		"Set your office hours for **Sunday through Wednesday**. "+
			"Leave a day empty to skip it.",
		true,
		daySelectGroups(weekDays[:4], current)...,
	)
	if err != nil {
		return err
	}
	firstPicks, anchor, err := firstHalf.Start(ctx, OriginFromInteraction(i))
	if err != nil || firstPicks == nil {
		return err
	}

	secondHalf, err := d.newSelectPrompt(
		"Now **Thursday through Saturday**.",
		true,
		daySelectGroups(weekDays[4:], current)...,
	)
	if err != nil {
		return err
	}
	secondPicks, anchor, err := secondHalf.Start(ctx, OriginFromAnchor(anchor))
	if err != nil || secondPicks == nil {
		return err
	}

	// dropdowns the user never touched keep their current hours; a
	// dropdown cleared to nothing clears that day
	schedule := map[string][]string{}
	for _, day := range weekDays {
		key := strings.ToLower(day)
		slots, touched := firstPicks[key]
		if !touched {
			slots, touched = secondPicks[key]
		}
		if !touched {
			slots = current[day]
		}
		if len(slots) > 0 {
			schedule[day] = sortTimeSlots(slots)
		}
	}

	name := strings.TrimSpace(profile.Name.First + " " + profile.Name.Last)
	entry := OfficeHoursEntry{
		UserID:   discordUser.ID,
		Name:     name,
		Schedule: schedule,
	}

	if err = d.saveOfficeHoursEntry(ctx, guild, discordUser.ID, &entry); err != nil {
		logger.ErrorContext(ctx, "error saving office hours", tint.Err(err))
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}

	logger.InfoContext(
		ctx,
		"office hours updated",
		"user_id", discordUser.ID,
		"days", len(schedule),
	)
	if len(schedule) == 0 {
		d.finishAnchor(
			ctx,
			anchor,
			"Saved, with no hours selected. "+
				"You won't appear on the schedule.",
		)
		return nil
	}
	d.finishAnchor(
		ctx,
		anchor,
		"Your office hours have been saved!",
		memberScheduleEmbed(entry),
	)
	return nil
}

// saveOfficeHoursEntry replaces (or removes, when entry is nil) the
// member's entry in the guild's office hours list.
func (d *CampusBot) saveOfficeHoursEntry(
	ctx context.Context,
	guild *Guild,
	userID string,
	entry *OfficeHoursEntry,
) error {
	entries, err := guild.OfficeHours()
	if err != nil {
		return err
	}

	updated := make([]any, 0, len(entries)+1)
	for _, existing := range entries {
		if existing.UserID == userID {
			continue
		}
		updated = append(updated, officeHoursEntryBody(existing))
	}
	if entry != nil && len(entry.Schedule) > 0 {
		updated = append(updated, officeHoursEntryBody(*entry))
	}

	return d.writeDB.Update(
		ctx,
		guild,
		map[string]any{fieldOfficeHours: updated},
	)
}

func officeHoursEntryBody(entry OfficeHoursEntry) map[string]any {
	schedule := map[string]any{}
	for day, slots := range entry.Schedule {
		values := make([]any, 0, len(slots))
		for _, slot := range slots {
			values = append(values, slot)
		}
		schedule[day] = values
	}
	return map[string]any{
		"user_id":  entry.UserID,
		"name":     entry.Name,
		"schedule": schedule,
	}
}

func (d *CampusBot) officeHoursShow(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	guild, err := d.getOrCreateGuild(ctx, i.GuildID)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	entries, err := guild.OfficeHours()
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	if len(entries) == 0 {
		d.respondEphemeral(
			ctx,
			i,
			"No office hours have been set yet. Use `/officehours edit`!",
		)
		return nil
	}
	d.respondEphemeralEmbed(ctx, i, scheduleEmbed(entries))
	return nil
}

func (d *CampusBot) officeHoursAnnounce(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	logger := d.commandLogger(ctx, DiscordSlashCommandOfficeHours)
	ctx = WithLogger(ctx, logger)

	guild, err := d.getOrCreateGuild(ctx, i.GuildID)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	channels, err := guild.Channels()
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	if channels.Announcements == "" {
		d.respondEphemeral(
			ctx,
			i,
			"No announcements channel is configured. "+
				"An admin can set one with `/server edit`.",
		)
		return nil
	}
	entries, err := guild.OfficeHours()
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	if len(entries) == 0 {
		d.respondEphemeral(ctx, i, "No office hours to announce yet.")
		return nil
	}

	_, err = d.discord.session.ChannelMessageSendComplex(
		channels.Announcements,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{scheduleEmbed(entries)},
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "error posting schedule", tint.Err(err))
		d.respondEphemeral(
			ctx,
			i,
			"Couldn't post to the announcements channel. "+
				"Check the bot's permissions there.",
		)
		return err
	}
	d.respondEphemeral(
		ctx,
		i,
		fmt.Sprintf("Posted the schedule to <#%s>.", channels.Announcements),
	)
	return nil
}

func (d *CampusBot) officeHoursClear(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	logger := d.commandLogger(ctx, DiscordSlashCommandOfficeHours)
	ctx = WithLogger(ctx, logger)
	discordUser := getDiscordUser(i)

	guild, err := d.getOrCreateGuild(ctx, i.GuildID)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	entries, err := guild.OfficeHours()
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	found := false
	for _, entry := range entries {
		if entry.UserID == discordUser.ID {
			found = true
			break
		}
	}
	if !found {
		d.respondEphemeral(ctx, i, "You don't have any office hours set.")
		return nil
	}

	confirm, err := d.newConfirmPrompt(
		"Remove your office hours from the schedule?",
	)
	if err != nil {
		return err
	}
	accepted, anchor, err := confirm.Destructive("Remove").
		Start(ctx, OriginFromInteraction(i))
	if err != nil || accepted == nil || !*accepted {
		return err
	}

	if err = d.saveOfficeHoursEntry(ctx, guild, discordUser.ID, nil); err != nil {
		logger.ErrorContext(ctx, "error clearing office hours", tint.Err(err))
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}
	logger.InfoContext(ctx, "office hours cleared", "user_id", discordUser.ID)
	d.finishAnchor(ctx, anchor, "Your office hours have been removed.")
	return nil
}

// scheduleEmbed builds the combined schedule, one field per day.
func scheduleEmbed(entries []OfficeHoursEntry) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(weekDays))
	for _, day := range weekDays {
		var lines []string
		for _, entry := range entries {
			slots := entry.Schedule[day]
			if len(slots) == 0 {
				continue
			}
			lines = append(
				lines,
				fmt.Sprintf(
					"%s: %s",
					entry.Name,
					strings.Join(sortTimeSlots(slots), ", "),
				),
			)
		}
		if len(lines) == 0 {
			continue
		}
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:  day,
				Value: truncate(strings.Join(lines, "\n"), 1024),
			},
		)
	}
	return &discordgo.MessageEmbed{
		Title:  "Office hours",
		Fields: fields,
	}
}

// memberScheduleEmbed builds a single member's schedule.
func memberScheduleEmbed(entry OfficeHoursEntry) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(entry.Schedule))
	for _, day := range weekDays {
		slots := entry.Schedule[day]
		if len(slots) == 0 {
			continue
		}
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:  day,
				Value: strings.Join(sortTimeSlots(slots), ", "),
			},
		)
	}
	return &discordgo.MessageEmbed{
		Title:  fmt.Sprintf("Office hours for %s", entry.Name),
		Fields: fields,
	}
}
