package campusbot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	return &Schema{
		Collection: "pets",
		Fields: []SchemaField{
			{Name: "tags", Default: []any{}},
			{Name: "nickname", Default: ""},
			{
				Name: "owner",
				Sub: &Schema{
					Collection: "pets.owner",
					Fields: []SchemaField{
						{Name: "first", Default: ""},
						{Name: "last", Default: ""},
					},
				},
			},
		},
	}
}

func TestSchemaNewBody(t *testing.T) {
	t.Parallel()

	body := testSchema().NewBody()
	assert.Equal(t, []any{}, body["tags"])
	assert.Equal(t, "", body["nickname"])

	owner, ok := body["owner"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "", owner["first"])
	assert.Equal(t, "", owner["last"])
}

func TestSchemaNewBodyClonesDefaults(t *testing.T) {
	t.Parallel()

	schema := testSchema()
	first := schema.NewBody()
	second := schema.NewBody()

	first["tags"] = append(first["tags"].([]any), "fluffy")
	assert.Empty(t, second["tags"])

	firstOwner := first["owner"].(map[string]any)
	firstOwner["first"] = "Pat"
	secondOwner := second["owner"].(map[string]any)
	assert.Equal(t, "", secondOwner["first"])
}

func TestSchemaSetPath(t *testing.T) {
	t.Parallel()

	schema := testSchema()
	body := schema.NewBody()

	require.NoError(t, schema.SetPath(body, "nickname", "Rex"))
	assert.Equal(t, "Rex", body["nickname"])

	require.NoError(t, schema.SetPath(body, "owner__first", "Pat"))
	owner := body["owner"].(map[string]any)
	assert.Equal(t, "Pat", owner["first"])

	// nil clears a field
	require.NoError(t, schema.SetPath(body, "nickname", nil))
	assert.Nil(t, body["nickname"])
}

func TestSchemaSetPathCreatesMissingRecord(t *testing.T) {
	t.Parallel()

	schema := testSchema()
	body := map[string]any{}
	require.NoError(t, schema.SetPath(body, "owner__last", "Smith"))

	owner, ok := body["owner"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Smith", owner["last"])
}

func TestSchemaSetPathInvalid(t *testing.T) {
	t.Parallel()

	schema := testSchema()

	for _, tc := range []struct {
		name    string
		path    string
		segment string
	}{
		{name: "undeclared leaf", path: "color", segment: "color"},
		{name: "undeclared nested", path: "owner__middle", segment: "middle"},
		{name: "scalar as record", path: "nickname__first", segment: "nickname"},
	} {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				err := schema.SetPath(schema.NewBody(), tc.path, "x")
				var pathErr FieldPathError
				require.ErrorAs(t, err, &pathErr)
				assert.Equal(t, tc.path, pathErr.Path)
				assert.Equal(t, tc.segment, pathErr.Segment)
			},
		)
	}
}

func TestSchemaSyncBackfillsDefaults(t *testing.T) {
	t.Parallel()

	schema := testSchema()
	body := map[string]any{"nickname": "Rex"}

	changed, err := schema.Sync(body)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "Rex", body["nickname"])
	assert.Equal(t, []any{}, body["tags"])

	owner, ok := body["owner"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "", owner["first"])

	// a second sync is a no-op
	changed, err = schema.Sync(body)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSchemaSyncReportsDrift(t *testing.T) {
	t.Parallel()

	schema := testSchema()
	body := schema.NewBody()
	body["zcolor"] = "brown"
	owner := body["owner"].(map[string]any)
	owner["age"] = float64(42)

	_, err := schema.Sync(body)
	var drift SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "pets", drift.Collection)
	assert.Equal(t, []string{"owner__age", "zcolor"}, drift.Fields)

	// drifted fields are reported, not dropped
	assert.Equal(t, "brown", body["zcolor"])
	assert.Equal(t, float64(42), owner["age"])
}

func TestSchemaSyncScalarWhereRecordDeclared(t *testing.T) {
	t.Parallel()

	schema := testSchema()
	body := schema.NewBody()
	body["owner"] = "Pat"

	_, err := schema.Sync(body)
	var drift SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Contains(t, drift.Fields, "owner")
	assert.Equal(t, "Pat", body["owner"])
}

func TestValidationErrorMessage(t *testing.T) {
	t.Parallel()

	err := ValidationError{Field: "school_email", Message: "bad address"}
	assert.Equal(t, "school_email: bad address", err.Error())

	err = ValidationError{Message: "bad address"}
	assert.Equal(t, "bad address", err.Error())
}

func TestUserHasProfile(t *testing.T) {
	t.Parallel()

	user := NewUser("user-1")
	assert.False(t, user.HasProfile())

	require.NoError(
		t,
		UserSchema.SetPath(user.Data, fieldProfileEmail, "pat@school.edu"),
	)
	assert.True(t, user.HasProfile())

	profile, err := user.Profile()
	require.NoError(t, err)
	assert.Equal(t, "pat@school.edu", profile.SchoolEmail)
}

func TestAppendUnique(t *testing.T) {
	t.Parallel()

	user := NewUser("user-1")
	assert.True(t, appendUnique(user.Data, "guilds", "guild-1"))
	assert.False(t, appendUnique(user.Data, "guilds", "guild-1"))
	assert.True(t, appendUnique(user.Data, "guilds", "guild-2"))
	assert.Equal(t, []string{"guild-1", "guild-2"}, bodyStringSlice(user.Data, "guilds"))
}

func TestGuildOfficeHours(t *testing.T) {
	t.Parallel()

	guild := NewGuild("guild-1")
	entries, err := guild.OfficeHours()
	require.NoError(t, err)
	assert.Empty(t, entries)

	guild.Data[fieldOfficeHours] = []any{
		map[string]any{
			"user_id": "user-1",
			"name":    "Pat Smith",
			"schedule": map[string]any{
				"Monday": []any{"8:00 AM", "9:00 AM"},
			},
		},
	}
	entries, err = guild.OfficeHours()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "user-1", entries[0].UserID)
	assert.Equal(t, "Pat Smith", entries[0].Name)
	assert.Equal(t, []string{"8:00 AM", "9:00 AM"}, entries[0].Schedule["Monday"])
}

func TestFieldPathErrorIsNotDuplicateKey(t *testing.T) {
	t.Parallel()

	err := FieldPathError{Path: "a__b", Segment: "b"}
	assert.False(t, errors.Is(err, ErrDuplicateKey))
	assert.Contains(t, err.Error(), "a__b")
}
