package campusbot

import (
	"log/slog"

	"github.com/mitchellh/mapstructure"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	collectionUsers  = "users"
	collectionGuilds = "guilds"
	collectionEvents = "events"

	fieldProfile         = "profile"
	fieldProfileEmail    = "profile__school_email"
	fieldProfileStudent  = "profile__student_id"
	fieldChannels        = "channels"
	fieldRoles           = "roles"
	fieldOfficeHours     = "office_hours"
	fieldEventDetails    = "details"
	fieldEventMessageID  = "message_id"
	fieldEventUsers      = "users"
	fieldEventReactions  = "details__reactions"
	columnUserEmail      = "school_email"
	columnUserStudentID  = "student_id"
	columnEventGuildID   = "guild_id"
	columnEventMessageID = "message_id"
)

// Document is implemented by every record type the store manages. The
// body is the semi-structured JSON payload validated against the
// document's declared [Schema].
type Document interface {
	Schema() *Schema
	DocumentID() string
	Body() datatypes.JSONMap
	SetBody(datatypes.JSONMap)
}

// UserSchema declares the shape of a member document. The profile is
// only populated once the member completes /profile create.
var UserSchema = &Schema{
	Collection: collectionUsers,
	Fields: []SchemaField{
		{Name: "guilds", Default: []any{}},
		{Name: "events", Default: []any{}},
		{
			Name: "profile",
			Sub: &Schema{
				Collection: "users.profile",
				Fields: []SchemaField{
					{
						Name: "name",
						Sub: &Schema{
							Collection: "users.profile.name",
							Fields: []SchemaField{
								{Name: "first", Default: ""},
								{Name: "middle", Default: ""},
								{Name: "last", Default: ""},
							},
						},
					},
					{Name: "school_email", Default: ""},
					{Name: "student_id", Default: ""},
					{Name: "major", Default: []any{}},
					{Name: "graduation_year", Default: float64(0)},
					{Name: "phone", Default: ""},
				},
			},
		},
	},
}

// GuildSchema declares the shape of a guild document.
var GuildSchema = &Schema{
	Collection: collectionGuilds,
	Fields: []SchemaField{
		{Name: "users", Default: []any{}},
		{Name: "events", Default: []any{}},
		{
			Name: "channels",
			Sub: &Schema{
				Collection: "guilds.channels",
				Fields: []SchemaField{
					{Name: "reports", Default: nil},
					{Name: "announcements", Default: nil},
					{Name: "moderator", Default: nil},
				},
			},
		},
		{
			Name: "roles",
			Sub: &Schema{
				Collection: "guilds.roles",
				Fields: []SchemaField{
					{Name: "visitor", Default: nil},
					{Name: "member", Default: nil},
					{Name: "eboard", Default: nil},
					{Name: "admin", Default: nil},
				},
			},
		},
		{Name: "office_hours", Default: []any{}},
	},
}

// EventSchema declares the shape of an event document.
var EventSchema = &Schema{
	Collection: collectionEvents,
	Fields: []SchemaField{
		{Name: "users", Default: []any{}},
		{Name: "guild_id", Default: ""},
		{Name: "message_id", Default: ""},
		{
			Name: "details",
			Sub: &Schema{
				Collection: "events.details",
				Fields: []SchemaField{
					{Name: "name", Default: ""},
					{Name: "datetime", Default: ""},
					{Name: "location", Default: ""},
					{Name: "description", Default: ""},
					{
						Name: "reactions",
						Sub: &Schema{
							Collection: "events.details.reactions",
							Fields: []SchemaField{
								{Name: "yes", Default: float64(0)},
								{Name: "maybe", Default: float64(0)},
								{Name: "no", Default: float64(0)},
							},
						},
					},
				},
			},
		},
	},
}

// User is a member document, keyed by Discord user ID. SchoolEmail and
// StudentID mirror the corresponding body fields into unique indexed
// columns; they're maintained by [User.BeforeSave] and never written
// directly.
type User struct {
	ModelStringID
	ModelUnixTime
	SchoolEmail *string           `gorm:"uniqueIndex" json:"school_email,omitempty"`
	StudentID   *string           `gorm:"uniqueIndex" json:"student_id,omitempty"`
	Data        datatypes.JSONMap `gorm:"type:json" json:"data"`
}

// NewUser returns a User document with template defaults, keyed by the
// given Discord user ID.
func NewUser(id string) *User {
	return &User{
		ModelStringID: ModelStringID{ID: id},
		Data:          UserSchema.NewBody(),
	}
}

func (*User) Schema() *Schema               { return UserSchema }
func (u *User) DocumentID() string          { return u.ID }
func (u *User) Body() datatypes.JSONMap     { return u.Data }
func (u *User) SetBody(b datatypes.JSONMap) { u.Data = b }

// BeforeSave mirrors the unique profile fields into their indexed
// columns, so uniqueness is enforced by the database rather than by a
// read-then-write check.
func (u *User) BeforeSave(_ *gorm.DB) error {
	u.SchoolEmail = uniqueBodyField(u.Data, "school_email")
	u.StudentID = uniqueBodyField(u.Data, "student_id")
	return nil
}

func uniqueBodyField(body datatypes.JSONMap, name string) *string {
	profile, ok := body[fieldProfile].(map[string]any)
	if !ok {
		return nil
	}
	value, ok := profile[name].(string)
	if !ok || value == "" {
		return nil
	}
	return &value
}

func (u User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID),
		slog.Bool("has_profile", u.SchoolEmail != nil),
	)
}

// UserProfile is a typed view over the profile section of a User body.
type UserProfile struct {
	Name struct {
		First  string `mapstructure:"first"`
		Middle string `mapstructure:"middle"`
		Last   string `mapstructure:"last"`
	} `mapstructure:"name"`
	SchoolEmail    string   `mapstructure:"school_email"`
	StudentID      string   `mapstructure:"student_id"`
	Major          []string `mapstructure:"major"`
	GraduationYear int      `mapstructure:"graduation_year"`
	Phone          string   `mapstructure:"phone"`
}

// Profile decodes the profile section of the user's body.
func (u *User) Profile() (UserProfile, error) {
	var profile UserProfile
	err := decodeBodySection(u.Data, fieldProfile, &profile)
	return profile, err
}

// HasProfile reports whether the user has completed profile collection.
func (u *User) HasProfile() bool {
	profile, err := u.Profile()
	if err != nil {
		return false
	}
	return profile.SchoolEmail != ""
}

// Guild is a guild document, keyed by Discord guild ID.
type Guild struct {
	ModelStringID
	ModelUnixTime
	Data datatypes.JSONMap `gorm:"type:json" json:"data"`
}

// NewGuild returns a Guild document with template defaults.
func NewGuild(id string) *Guild {
	return &Guild{
		ModelStringID: ModelStringID{ID: id},
		Data:          GuildSchema.NewBody(),
	}
}

func (*Guild) Schema() *Schema               { return GuildSchema }
func (g *Guild) DocumentID() string          { return g.ID }
func (g *Guild) Body() datatypes.JSONMap     { return g.Data }
func (g *Guild) SetBody(b datatypes.JSONMap) { g.Data = b }

// GuildChannels is a typed view over the channels section of a Guild body.
type GuildChannels struct {
	Reports       string `mapstructure:"reports"`
	Announcements string `mapstructure:"announcements"`
	Moderator     string `mapstructure:"moderator"`
}

// GuildRoles is a typed view over the roles section of a Guild body.
type GuildRoles struct {
	Visitor string `mapstructure:"visitor"`
	Member  string `mapstructure:"member"`
	Eboard  string `mapstructure:"eboard"`
	Admin   string `mapstructure:"admin"`
}

// OfficeHoursEntry is one member's weekly office hours schedule, keyed
// by Discord user ID. Name is denormalized for display.
type OfficeHoursEntry struct {
	UserID   string              `mapstructure:"user_id" json:"user_id"`
	Name     string              `mapstructure:"name" json:"name"`
	Schedule map[string][]string `mapstructure:"schedule" json:"schedule"`
}

func (g *Guild) Channels() (GuildChannels, error) {
	var channels GuildChannels
	err := decodeBodySection(g.Data, fieldChannels, &channels)
	return channels, err
}

func (g *Guild) Roles() (GuildRoles, error) {
	var roles GuildRoles
	err := decodeBodySection(g.Data, fieldRoles, &roles)
	return roles, err
}

// OfficeHours decodes the guild's office hours entries.
func (g *Guild) OfficeHours() ([]OfficeHoursEntry, error) {
	raw, ok := g.Data[fieldOfficeHours]
	if !ok || raw == nil {
		return nil, nil
	}
	var entries []OfficeHoursEntry
	if err := mapstructure.Decode(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Event is an event document. The ID is a random hex string assigned
// at creation.
type Event struct {
	ModelStringID
	ModelUnixTime
	GuildID   string            `gorm:"index" json:"guild_id"`
	MessageID string            `gorm:"index" json:"message_id"`
	Data      datatypes.JSONMap `gorm:"type:json" json:"data"`
}

// NewEvent returns an Event document with template defaults and a
// freshly generated ID.
func NewEvent(guildID string) (*Event, error) {
	id, err := generateRandomHexString(8)
	if err != nil {
		return nil, err
	}
	event := &Event{
		ModelStringID: ModelStringID{ID: id},
		GuildID:       guildID,
		Data:          EventSchema.NewBody(),
	}
	event.Data["guild_id"] = guildID
	return event, nil
}

func (*Event) Schema() *Schema               { return EventSchema }
func (e *Event) DocumentID() string          { return e.ID }
func (e *Event) Body() datatypes.JSONMap     { return e.Data }
func (e *Event) SetBody(b datatypes.JSONMap) { e.Data = b }

// BeforeSave mirrors the guild and message IDs into indexed columns.
func (e *Event) BeforeSave(_ *gorm.DB) error {
	if guildID, ok := e.Data["guild_id"].(string); ok {
		e.GuildID = guildID
	}
	if messageID, ok := e.Data[fieldEventMessageID].(string); ok {
		e.MessageID = messageID
	}
	return nil
}

// EventDetails is a typed view over the details section of an Event body.
type EventDetails struct {
	Name        string `mapstructure:"name"`
	Datetime    string `mapstructure:"datetime"`
	Location    string `mapstructure:"location"`
	Description string `mapstructure:"description"`
	Reactions   struct {
		Yes   int `mapstructure:"yes"`
		Maybe int `mapstructure:"maybe"`
		No    int `mapstructure:"no"`
	} `mapstructure:"reactions"`
}

func (e *Event) Details() (EventDetails, error) {
	var details EventDetails
	err := decodeBodySection(e.Data, fieldEventDetails, &details)
	return details, err
}

func decodeBodySection(body datatypes.JSONMap, section string, out any) error {
	raw, ok := body[section]
	if !ok || raw == nil {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(
		&mapstructure.DecoderConfig{
			Result:           out,
			WeaklyTypedInput: true,
		},
	)
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

// bodyStringSlice reads a []string out of a JSON body field.
func bodyStringSlice(body datatypes.JSONMap, name string) []string {
	raw, ok := body[name].([]any)
	if !ok {
		return nil
	}
	values := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			values = append(values, s)
		}
	}
	return values
}

// appendUnique appends value to a []any body field if not already present.
func appendUnique(body datatypes.JSONMap, name string, value string) bool {
	existing := bodyStringSlice(body, name)
	for _, item := range existing {
		if item == value {
			return false
		}
	}
	raw, _ := body[name].([]any)
	body[name] = append(raw, value)
	return true
}
