package campusbot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortTimeSlots(t *testing.T) {
	t.Parallel()

	sorted := sortTimeSlots([]string{"3:00 PM", "8:00 AM", "12:00 PM"})
	assert.Equal(t, []string{"8:00 AM", "12:00 PM", "3:00 PM"}, sorted)

	// unknown slots are dropped, not sorted
	sorted = sortTimeSlots([]string{"9:00 AM", "7:13 AM", "midnight"})
	assert.Equal(t, []string{"9:00 AM"}, sorted)

	assert.Empty(t, sortTimeSlots(nil))
}

func TestTimeSlotOptions(t *testing.T) {
	t.Parallel()

	options := timeSlotOptions([]string{"8:00 AM", "11:00 PM"})
	require.Len(t, options, len(timeSlots))
	assert.LessOrEqual(t, len(options), maxSelectOptions)

	assert.True(t, options[0].Default)
	assert.True(t, options[len(options)-1].Default)
	assert.False(t, options[1].Default)
}

func TestDaySelectGroups(t *testing.T) {
	t.Parallel()

	schedule := map[string][]string{"Monday": {"9:00 AM"}}
	groups := daySelectGroups(weekDays[:4], schedule)
	require.Len(t, groups, 4)

	assert.Equal(t, "sunday", groups[0].Key)
	assert.Equal(t, "monday", groups[1].Key)
	for _, group := range groups {
		// every day is skippable and can hold a full schedule
		assert.Equal(t, 0, group.MinValues)
		assert.Equal(t, len(timeSlots), group.MaxValues)
	}

	var mondayDefaults int
	for _, option := range groups[1].Options {
		if option.Default {
			mondayDefaults++
			assert.Equal(t, "9:00 AM", option.Value)
		}
	}
	assert.Equal(t, 1, mondayDefaults)
}

func TestScheduleEmbed(t *testing.T) {
	t.Parallel()

	entries := []OfficeHoursEntry{
		{
			UserID: "user-1",
			Name:   "Pat Smith",
			Schedule: map[string][]string{
				"Monday": {"3:00 PM", "9:00 AM"},
			},
		},
		{
			UserID: "user-2",
			Name:   "Sam Jones",
			Schedule: map[string][]string{
				"Monday": {"9:00 AM"},
				"Friday": {"1:00 PM"},
			},
		},
	}

	embed := scheduleEmbed(entries)
	require.Len(t, embed.Fields, 2)

	assert.Equal(t, "Monday", embed.Fields[0].Name)
	assert.Contains(t, embed.Fields[0].Value, "Pat Smith: 9:00 AM, 3:00 PM")
	assert.Contains(t, embed.Fields[0].Value, "Sam Jones: 9:00 AM")

	assert.Equal(t, "Friday", embed.Fields[1].Name)
	assert.Contains(t, embed.Fields[1].Value, "Sam Jones: 1:00 PM")
}

func TestMemberScheduleEmbed(t *testing.T) {
	t.Parallel()

	entry := OfficeHoursEntry{
		UserID: "user-1",
		Name:   "Pat Smith",
		Schedule: map[string][]string{
			"Wednesday": {"2:00 PM", "10:00 AM"},
			"Sunday":    {"8:00 PM"},
		},
	}

	embed := memberScheduleEmbed(entry)
	assert.Equal(t, "Office hours for Pat Smith", embed.Title)
	require.Len(t, embed.Fields, 2)

	// fields follow week order regardless of map iteration
	assert.Equal(t, "Sunday", embed.Fields[0].Name)
	assert.Equal(t, "Wednesday", embed.Fields[1].Name)
	assert.Equal(t, "10:00 AM, 2:00 PM", embed.Fields[1].Value)
}

func TestOfficeHoursEntryBody(t *testing.T) {
	t.Parallel()

	body := officeHoursEntryBody(
		OfficeHoursEntry{
			UserID:   "user-1",
			Name:     "Pat Smith",
			Schedule: map[string][]string{"Monday": {"9:00 AM"}},
		},
	)
	assert.Equal(t, "user-1", body["user_id"])
	assert.Equal(t, "Pat Smith", body["name"])

	schedule, ok := body["schedule"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"9:00 AM"}, schedule["Monday"])
}
