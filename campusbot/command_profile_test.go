package campusbot

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSchoolEmail(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		email string
		valid bool
	}{
		{email: "pat@school.edu", valid: true},
		{email: "  Pat.Smith@School.EDU  ", valid: true},
		{email: "pat@school.com", valid: false},
		{email: "pat@gmail.com", valid: false},
		{email: "@school.edu", valid: false},
		{email: "pat@@school.edu", valid: false},
		{email: "school.edu", valid: false},
		{email: "", valid: false},
	} {
		tc := tc
		t.Run(
			tc.email, func(t *testing.T) {
				t.Parallel()
				err := validateSchoolEmail(tc.email)
				if tc.valid {
					assert.NoError(t, err)
					return
				}
				var validationErr ValidationError
				require.ErrorAs(t, err, &validationErr)
				assert.Equal(t, profileFieldEmail, validationErr.Field)
			},
		)
	}
}

func TestValidateStudentID(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateStudentID("123456789"))
	assert.NoError(t, validateStudentID(" 123456789 "))

	for _, id := range []string{"", "12345678", "1234567890", "12345678x"} {
		err := validateStudentID(id)
		var validationErr ValidationError
		require.ErrorAs(t, err, &validationErr, "student id %q", id)
		assert.Equal(t, profileFieldStudentID, validationErr.Field)
	}
}

func TestValidateGraduationYear(t *testing.T) {
	t.Parallel()
	current := time.Now().Year()

	assert.NoError(t, validateGraduationYear(strconv.Itoa(current)))
	assert.NoError(
		t,
		validateGraduationYear(strconv.Itoa(current+graduationYearWindow)),
	)

	for _, value := range []string{
		strconv.Itoa(current - 1),
		strconv.Itoa(current + graduationYearWindow + 1),
		"soon",
		"",
	} {
		err := validateGraduationYear(value)
		var validationErr ValidationError
		require.ErrorAs(t, err, &validationErr, "year %q", value)
		assert.Equal(t, profileFieldGradYear, validationErr.Field)
	}
}

func TestValidatePhone(t *testing.T) {
	t.Parallel()

	for _, phone := range []string{
		"",
		"5551234567",
		"+1 (555) 123-4567",
		"555 123 4567",
	} {
		assert.NoError(t, validatePhone(phone), "phone %q", phone)
	}

	for _, phone := range []string{
		"555-1234x89",
		"call me",
		"123456",
		"+123456789012345678",
	} {
		err := validatePhone(phone)
		var validationErr ValidationError
		require.ErrorAs(t, err, &validationErr, "phone %q", phone)
		assert.Equal(t, profileFieldPhone, validationErr.Field)
	}
}

func TestValidateProfileForm(t *testing.T) {
	t.Parallel()
	year := strconv.Itoa(time.Now().Year() + 1)

	values := map[string]string{
		profileFieldEmail:     "pat@school.edu",
		profileFieldStudentID: "123456789",
		profileFieldGradYear:  year,
	}
	assert.NoError(t, validateProfileForm(values))

	// the first failing field is the one reported
	values[profileFieldEmail] = "pat@gmail.com"
	values[profileFieldStudentID] = "bogus"
	err := validateProfileForm(values)
	var validationErr ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, profileFieldEmail, validationErr.Field)

	values[profileFieldEmail] = "pat@school.edu"
	err = validateProfileForm(values)
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, profileFieldStudentID, validationErr.Field)
}

func TestMajorSelectOptions(t *testing.T) {
	t.Parallel()

	options := majorSelectOptions([]string{"Computer Science", "Physics"})
	require.Len(t, options, len(majorNames))
	assert.LessOrEqual(t, len(options), maxSelectOptions)

	defaults := map[string]bool{}
	for _, option := range options {
		assert.Equal(t, option.Label, option.Value)
		if option.Default {
			defaults[option.Value] = true
		}
	}
	assert.Equal(
		t,
		map[string]bool{"Computer Science": true, "Physics": true},
		defaults,
	)
}

func TestProfileEmbed(t *testing.T) {
	t.Parallel()

	user := NewUser("user-1")
	for path, value := range map[string]any{
		"profile__name__first":     "Pat",
		"profile__name__last":      "Smith",
		fieldProfileEmail:          "pat@school.edu",
		fieldProfileStudent:        "123456789",
		"profile__graduation_year": float64(2027),
		"profile__major":           []any{"Computer Science"},
	} {
		require.NoError(t, UserSchema.SetPath(user.Data, path, value))
	}

	embed, err := profileEmbed(user)
	require.NoError(t, err)
	require.NotEmpty(t, embed.Fields)
	assert.Equal(t, "Pat Smith", embed.Fields[0].Value)

	fieldValues := map[string]string{}
	for _, field := range embed.Fields {
		fieldValues[field.Name] = field.Value
	}
	assert.Equal(t, "pat@school.edu", fieldValues["School email"])
	assert.Equal(t, "123456789", fieldValues["Student ID"])
	assert.Equal(t, "2027", fieldValues["Graduation year"])
	assert.Equal(t, "Computer Science", fieldValues["Major(s)"])
	assert.NotContains(t, fieldValues, "Phone")
}

type verifyEmailResult struct {
	verified bool
	err      error
}

// startVerifyEmail runs verifyEmail in the background and walks the
// trigger-button and modal steps up to the code submission, returning
// the submit custom ID and the result channel.
func startVerifyEmail(
	t *testing.T,
	bot *CampusBot,
	session *mockDiscordSession,
) (string, chan verifyEmailResult) {
	t.Helper()

	anchor := &Anchor{
		Interaction: commandInteraction("i-1").Interaction,
		Message:     &discordgo.Message{ID: "anchor-message"},
	}

	results := make(chan verifyEmailResult, 1)
	go func() {
		verified, _, err := bot.verifyEmail(
			WithLogger(context.Background(), session.logger),
			"user-1",
			"pat@school.edu",
			anchor,
		)
		results <- verifyEmailResult{verified: verified, err: err}
	}()

	// the anchor is rewritten with the trigger button once the code is
	// on its way
	require.Eventually(
		t,
		func() bool {
			return len(session.recordedEdits()) > 0
		},
		5*time.Second,
		5*time.Millisecond,
	)
	edits := session.recordedEdits()
	row, ok := (*edits[0].Components)[0].(discordgo.ActionsRow)
	require.True(t, ok)
	button, ok := row.Components[0].(discordgo.Button)
	require.True(t, ok)

	dispatchWhenReady(t, bot.prompts, componentEvent("i-2", button.CustomID))
	require.Eventually(
		t,
		func() bool {
			responses := session.recordedResponses()
			if len(responses) == 0 {
				return false
			}
			last := responses[len(responses)-1]
			return last.Type == discordgo.InteractionResponseModal
		},
		5*time.Second,
		5*time.Millisecond,
	)
	responses := session.recordedResponses()
	return responses[len(responses)-1].Data.CustomID, results
}

func TestVerifyEmailAcceptsIssuedCode(t *testing.T) {
	t.Parallel()
	bot, session := newPromptTestBot(t)
	sender := &mockMailSender{}
	bot.verifier = NewVerifier(sender, 0, session.logger)

	submitID, results := startVerifyEmail(t, bot, session)
	code := sender.lastCode(t)

	dispatchWhenReady(
		t,
		bot.prompts,
		modalSubmitEvent("i-3", submitID, map[string]string{profileFieldCode: code}),
	)

	result := <-results
	require.NoError(t, result.err)
	assert.True(t, result.verified)

	// the code was consumed by the match
	assert.False(t, bot.verifier.Verify("user-1", code))
}

func TestVerifyEmailWrongCodeAbortsFlow(t *testing.T) {
	t.Parallel()
	bot, session := newPromptTestBot(t)
	sender := &mockMailSender{}
	bot.verifier = NewVerifier(sender, 0, session.logger)

	submitID, results := startVerifyEmail(t, bot, session)
	code := sender.lastCode(t)
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}

	dispatchWhenReady(
		t,
		bot.prompts,
		modalSubmitEvent(
			"i-3",
			submitID,
			map[string]string{profileFieldCode: wrong},
		),
	)

	// a single mismatch ends the flow; there is no retry prompt
	result := <-results
	require.NoError(t, result.err)
	assert.False(t, result.verified)

	edits := session.recordedEdits()
	require.NotEmpty(t, edits)
	assert.Contains(t, *edits[len(edits)-1].Content, "doesn't match")

	// the issued code survives the failed attempt
	assert.True(t, bot.verifier.Verify("user-1", code))
}
