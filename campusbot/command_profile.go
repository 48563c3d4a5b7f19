package campusbot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	profileFieldFirstName  = "first_name"
	profileFieldMiddleName = "middle_name"
	profileFieldLastName   = "last_name"
	profileFieldEmail      = "school_email"
	profileFieldStudentID  = "student_id"
	profileFieldGradYear   = "graduation_year"
	profileFieldPhone      = "phone"
	profileFieldCode       = "code"

	studentIDLength = 9

	// graduationYearWindow bounds how far in the future a graduation
	// year can be
	graduationYearWindow = 6

	maxMajorSelections = 3
)

// majorNames is the list offered by the majors dropdown. Kept under the
// 25-option dropdown limit.
var majorNames = []string{
	"Aerospace Engineering",
	"Applied Mathematics",
	"Architecture",
	"Biology",
	"Biomedical Engineering",
	"Business Administration",
	"Chemical Engineering",
	"Chemistry",
	"Civil Engineering",
	"Cognitive Science",
	"Computer Science",
	"Computer Systems Engineering",
	"Economics",
	"Electrical Engineering",
	"Environmental Science",
	"Games and Simulation",
	"Industrial Engineering",
	"Information Technology",
	"Materials Engineering",
	"Mechanical Engineering",
	"Nuclear Engineering",
	"Physics",
	"Psychology",
	"Undeclared",
}

func majorSelectOptions(selected []string) []discordgo.SelectMenuOption {
	current := map[string]bool{}
	for _, major := range selected {
		current[major] = true
	}
	options := make([]discordgo.SelectMenuOption, 0, len(majorNames))
	for _, major := range majorNames {
		options = append(
			options, discordgo.SelectMenuOption{
				Label:   major,
				Value:   major,
				Default: current[major],
			},
		)
	}
	return options
}

func validateSchoolEmail(email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	at := strings.Count(email, "@")
	if at != 1 || strings.HasPrefix(email, "@") {
		return ValidationError{
			Field:   profileFieldEmail,
			Message: "That doesn't look like an email address.",
		}
	}
	if !strings.HasSuffix(email, ".edu") {
		return ValidationError{
			Field:   profileFieldEmail,
			Message: "Please use your school (.edu) email address.",
		}
	}
	return nil
}

func validateStudentID(studentID string) error {
	studentID = strings.TrimSpace(studentID)
	if len(studentID) != studentIDLength {
		return ValidationError{
			Field: profileFieldStudentID,
			Message: fmt.Sprintf(
				"Student ID must be exactly %d digits.",
				studentIDLength,
			),
		}
	}
	for _, c := range studentID {
		if c < '0' || c > '9' {
			return ValidationError{
				Field:   profileFieldStudentID,
				Message: "Student ID must contain only digits.",
			}
		}
	}
	return nil
}

func validateGraduationYear(value string) error {
	year, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return ValidationError{
			Field:   profileFieldGradYear,
			Message: "Graduation year must be a number.",
		}
	}
	current := time.Now().Year()
	if year < current || year > current+graduationYearWindow {
		return ValidationError{
			Field: profileFieldGradYear,
			Message: fmt.Sprintf(
				"Graduation year must be between %d and %d.",
				current,
				current+graduationYearWindow,
			),
		}
	}
	return nil
}

func validatePhone(phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil
	}
	digits := 0
	for _, c := range phone {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '+' || c == '-' || c == ' ' || c == '(' || c == ')':
			//
		default:
			return ValidationError{
				Field:   profileFieldPhone,
				Message: "Phone number contains unexpected characters.",
			}
		}
	}
	if digits < 7 || digits > 15 {
		return ValidationError{
			Field:   profileFieldPhone,
			Message: "That doesn't look like a phone number.",
		}
	}
	return nil
}

func validateProfileForm(values map[string]string) error {
	if err := validateSchoolEmail(values[profileFieldEmail]); err != nil {
		return err
	}
	if err := validateStudentID(values[profileFieldStudentID]); err != nil {
		return err
	}
	return validateGraduationYear(values[profileFieldGradYear])
}

func (d *CampusBot) handleProfileCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	switch subcommand(i) {
	case "create":
		return d.profileCreate(ctx, i)
	case "update":
		return d.profileUpdate(ctx, i)
	case "show":
		return d.profileShow(ctx, i)
	case "delete":
		return d.profileDelete(ctx, i)
	default:
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return nil
	}
}

func (d *CampusBot) profileCreate(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	logger := d.commandLogger(ctx, DiscordSlashCommandProfile)
	ctx = WithLogger(ctx, logger)
	discordUser := getDiscordUser(i)

	user, err := d.loadUser(ctx, i)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	if user != nil && user.HasProfile() {
		d.respondEphemeral(
			ctx,
			i,
			"You already have a profile! Use `/profile update` to change it.",
		)
		return nil
	}

	form, err := d.newFormPrompt(
		"Create your profile",
		FormField{
			Key:       profileFieldFirstName,
			Label:     "First name",
			Required:  true,
			MaxLength: 64,
		},
		FormField{
			Key:       profileFieldLastName,
			Label:     "Last name",
			Required:  true,
			MaxLength: 64,
		},
		FormField{
			Key:         profileFieldEmail,
			Label:       "School email",
			Placeholder: "you@school.edu",
			Required:    true,
			MaxLength:   254,
		},
		FormField{
			Key:       profileFieldStudentID,
			Label:     "Student ID",
			Required:  true,
			MinLength: studentIDLength,
			MaxLength: studentIDLength,
		},
		FormField{
			Key:       profileFieldGradYear,
			Label:     "Graduation year",
			Required:  true,
			MinLength: 4,
			MaxLength: 4,
		},
	)
	if err != nil {
		return err
	}
	form.Validate = validateProfileForm

	values, anchor, err := form.Start(ctx, OriginFromInteraction(i))
	if err != nil || values == nil {
		return err
	}

	majors, anchor, err := d.collectMajors(ctx, anchor, nil)
	if err != nil || majors == nil {
		return err
	}

	email := strings.TrimSpace(strings.ToLower(values[profileFieldEmail]))
	verified, anchor, err := d.verifyEmail(ctx, discordUser.ID, email, anchor)
	if err != nil || !verified {
		return err
	}

	if user == nil {
		user = NewUser(discordUser.ID)
		if err = d.writeDB.Add(ctx, user); err != nil {
			logger.ErrorContext(ctx, "error creating user", tint.Err(err))
			d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
			return err
		}
	}

	year, _ := strconv.Atoi(strings.TrimSpace(values[profileFieldGradYear]))
	majorValues := make([]any, 0, len(majors))
	for _, major := range majors {
		majorValues = append(majorValues, major)
	}
	changes := map[string]any{
		"profile__name__first":     strings.TrimSpace(values[profileFieldFirstName]),
		"profile__name__last":      strings.TrimSpace(values[profileFieldLastName]),
		fieldProfileEmail:          email,
		fieldProfileStudent:        strings.TrimSpace(values[profileFieldStudentID]),
		"profile__graduation_year": float64(year),
		"profile__major":           majorValues,
	}

	if err = d.writeDB.Update(ctx, user, changes); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			logger.ErrorContext(ctx, "duplicate profile details", tint.Err(err))
			d.finishAnchor(
				ctx,
				anchor,
				"Some of those details are already registered to another member. "+
					"If you think that's a mistake, contact a moderator.",
			)
			return nil
		}
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}

	if i.GuildID != "" && appendUnique(user.Data, "guilds", i.GuildID) {
		if err = d.writeDB.Save(ctx, user); err != nil {
			logger.ErrorContext(ctx, "error recording guild membership", tint.Err(err))
		}
	}

	logger.InfoContext(ctx, "profile created", "user_id", user.ID)
	embed, embedErr := profileEmbed(user)
	if embedErr != nil {
		d.finishAnchor(ctx, anchor, "Your profile has been created!")
		return nil
	}
	d.finishAnchor(ctx, anchor, "Your profile has been created!", embed)
	return nil
}

// collectMajors runs the majors dropdown. A single dropdown with no
// confirmation buttons, so the first selection completes it.
func (d *CampusBot) collectMajors(
	ctx context.Context,
	anchor *Anchor,
	current []string,
) ([]string, *Anchor, error) {
	prompt, err := d.newSelectPrompt(
		fmt.Sprintf("Select your major(s) (up to %d).", maxMajorSelections),
		false,
		SelectGroup{
			Key:         "major",
			Placeholder: "Choose your major(s)",
			MinValues:   1,
			MaxValues:   maxMajorSelections,
			Options:     majorSelectOptions(current),
		},
	)
	if err != nil {
		return nil, anchor, err
	}
	selections, anchor, err := prompt.Start(ctx, OriginFromAnchor(anchor))
	if err != nil || selections == nil {
		return nil, anchor, err
	}
	return selections["major"], anchor, nil
}

// verifyEmail sends a verification code to the given address and
// prompts for it, reporting whether the user entered the right code
// before the deadline.
func (d *CampusBot) verifyEmail(
	ctx context.Context,
	requesterID string,
	email string,
	anchor *Anchor,
) (bool, *Anchor, error) {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = d.logger
	}

	err := d.verifier.Issue(ctx, requesterID, email)
	switch {
	case errors.Is(err, ErrCodeRequestThrottled):
		d.finishAnchor(
			ctx,
			anchor,
			"You requested a verification code recently. "+
				"Wait a moment before trying again.",
		)
		return false, anchor, nil
	case errors.Is(err, ErrDelivery):
		logger.ErrorContext(ctx, "verification email failed", tint.Err(err))
		d.finishAnchor(
			ctx,
			anchor,
			fmt.Sprintf(
				"Couldn't send a verification email to `%s`. "+
					"Double-check the address and try again.",
				email,
			),
		)
		return false, anchor, nil
	case err != nil:
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return false, anchor, err
	}

	form, err := d.newFormPrompt(
		"Email verification",
		FormField{
			Key:       profileFieldCode,
			Label:     "Verification code",
			Required:  true,
			MinLength: DefaultVerifyCodeLength,
			MaxLength: DefaultVerifyCodeLength,
		},
	)
	if err != nil {
		return false, anchor, err
	}
	form.WithTimeout(d.config.Prompts.VerifyTimeout)
	form.WithTrigger(
		fmt.Sprintf(
			"A verification code was sent to `%s`. "+
				"Click below once you have it.",
			email,
		),
		"Enter code",
	)
	values, anchor, err := form.Start(ctx, OriginFromAnchor(anchor))
	if err != nil || values == nil {
		return false, anchor, err
	}

	// one attempt per issued code: a mismatch aborts the whole flow
	code := strings.TrimSpace(values[profileFieldCode])
	if !d.verifier.Verify(requesterID, code) {
		logger.InfoContext(
			ctx,
			"verification code mismatch",
			"requester_id", requesterID,
		)
		d.finishAnchor(
			ctx,
			anchor,
			"That code doesn't match. Run the command again to start over.",
		)
		return false, anchor, nil
	}
	return true, anchor, nil
}

func (d *CampusBot) profileUpdate(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	logger := d.commandLogger(ctx, DiscordSlashCommandProfile)
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
			"You don't have a profile yet. Use `/profile create` first!",
		)
		return nil
	}
	profile, err := user.Profile()
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}

	prompt, err := d.newSelectPrompt(
		"What would you like to update?",
		false,
		SelectGroup{
			Key:         "section",
			Placeholder: "Pick something to update",
			MinValues:   1,
			Options: []discordgo.SelectMenuOption{
				{Label: "Name", Value: "name"},
				{Label: "School email", Value: "email"},
				{Label: "Phone number", Value: "phone"},
				{Label: "Student ID", Value: "student_id"},
				{Label: "Graduation year", Value: "graduation_year"},
				{Label: "Majors", Value: "major"},
			},
		},
	)
	if err != nil {
		return err
	}
	selections, anchor, err := prompt.Start(ctx, OriginFromInteraction(i))
	if err != nil || selections == nil {
		return err
	}

	var section string
	if picked := selections["section"]; len(picked) > 0 {
		section = picked[0]
	}

	switch section {
	case "name":
		return d.profileUpdateName(ctx, user, profile, anchor)
	case "email":
		return d.profileUpdateEmail(ctx, user, discordUser.ID, profile, anchor)
	case "phone":
		return d.profileUpdatePhone(ctx, user, profile, anchor)
	case "student_id":
		return d.profileUpdateStudentID(ctx, user, profile, anchor)
	case "graduation_year":
		return d.profileUpdateGradYear(ctx, user, anchor)
	case "major":
		return d.profileUpdateMajors(ctx, user, profile, anchor)
	default:
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return nil
	}
}

// applyProfileUpdate persists the changes and rewrites the anchor with
// either a fresh profile summary or a duplicate-details notice.
func (d *CampusBot) applyProfileUpdate(
	ctx context.Context,
	user *User,
	anchor *Anchor,
	changes map[string]any,
) error {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = d.logger
	}

	if err := d.writeDB.Update(ctx, user, changes); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			logger.ErrorContext(ctx, "duplicate profile details", tint.Err(err))
			d.finishAnchor(
				ctx,
				anchor,
				"Those details are already registered to another member. "+
					"If you think that's a mistake, contact a moderator.",
			)
			return nil
		}
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}

	logger.InfoContext(ctx, "profile updated", "user_id", user.ID)
	embed, err := profileEmbed(user)
	if err != nil {
		d.finishAnchor(ctx, anchor, "Your profile has been updated!")
		return nil
	}
	d.finishAnchor(ctx, anchor, "Your profile has been updated!", embed)
	return nil
}

func (d *CampusBot) profileUpdateName(
	ctx context.Context,
	user *User,
	profile UserProfile,
	anchor *Anchor,
) error {
	form, err := d.newFormPrompt(
		"Update your name",
		FormField{
			Key:       profileFieldFirstName,
			Label:     "First name",
			Value:     profile.Name.First,
			Required:  true,
			MaxLength: 64,
		},
		FormField{
			Key:       profileFieldMiddleName,
			Label:     "Middle name",
			Value:     profile.Name.Middle,
			MaxLength: 64,
		},
		FormField{
			Key:       profileFieldLastName,
			Label:     "Last name",
			Value:     profile.Name.Last,
			Required:  true,
			MaxLength: 64,
		},
	)
	if err != nil {
		return err
	}
	values, anchor, err := form.Start(ctx, OriginFromAnchor(anchor))
	if err != nil || values == nil {
		return err
	}
	return d.applyProfileUpdate(
		ctx, user, anchor, map[string]any{
			"profile__name__first":  strings.TrimSpace(values[profileFieldFirstName]),
			"profile__name__middle": strings.TrimSpace(values[profileFieldMiddleName]),
			"profile__name__last":   strings.TrimSpace(values[profileFieldLastName]),
		},
	)
}

func (d *CampusBot) profileUpdateEmail(
	ctx context.Context,
	user *User,
	requesterID string,
	profile UserProfile,
	anchor *Anchor,
) error {
	form, err := d.newFormPrompt(
		"Update your school email",
		FormField{
			Key:       profileFieldEmail,
			Label:     "School email",
			Value:     profile.SchoolEmail,
			Required:  true,
			MaxLength: 254,
		},
	)
	if err != nil {
		return err
	}
	form.Validate = func(values map[string]string) error {
		return validateSchoolEmail(values[profileFieldEmail])
	}
	values, anchor, err := form.Start(ctx, OriginFromAnchor(anchor))
	if err != nil || values == nil {
		return err
	}

	email := strings.TrimSpace(strings.ToLower(values[profileFieldEmail]))
	if email == profile.SchoolEmail {
		d.finishAnchor(ctx, anchor, "That's already your registered email.")
		return nil
	}

	// a changed address has to be re-verified before it's saved
	verified, anchor, err := d.verifyEmail(ctx, requesterID, email, anchor)
	if err != nil || !verified {
		return err
	}
	return d.applyProfileUpdate(
		ctx, user, anchor, map[string]any{fieldProfileEmail: email},
	)
}

func (d *CampusBot) profileUpdatePhone(
	ctx context.Context,
	user *User,
	profile UserProfile,
	anchor *Anchor,
) error {
	form, err := d.newFormPrompt(
		"Update your phone number",
		FormField{
			Key:         profileFieldPhone,
			Label:       "Phone number",
			Value:       profile.Phone,
			Placeholder: "Leave empty to remove",
			MaxLength:   20,
		},
	)
	if err != nil {
		return err
	}
	form.Validate = func(values map[string]string) error {
		return validatePhone(values[profileFieldPhone])
	}
	values, anchor, err := form.Start(ctx, OriginFromAnchor(anchor))
	if err != nil || values == nil {
		return err
	}
	return d.applyProfileUpdate(
		ctx, user, anchor, map[string]any{
			"profile__phone": strings.TrimSpace(values[profileFieldPhone]),
		},
	)
}

func (d *CampusBot) profileUpdateStudentID(
	ctx context.Context,
	user *User,
	profile UserProfile,
	anchor *Anchor,
) error {
	form, err := d.newFormPrompt(
		"Update your student ID",
		FormField{
			Key:       profileFieldStudentID,
			Label:     "Student ID",
			Value:     profile.StudentID,
			Required:  true,
			MinLength: studentIDLength,
			MaxLength: studentIDLength,
		},
	)
	if err != nil {
		return err
	}
	form.Validate = func(values map[string]string) error {
		return validateStudentID(values[profileFieldStudentID])
	}
	values, anchor, err := form.Start(ctx, OriginFromAnchor(anchor))
	if err != nil || values == nil {
		return err
	}
	return d.applyProfileUpdate(
		ctx, user, anchor, map[string]any{
			fieldProfileStudent: strings.TrimSpace(values[profileFieldStudentID]),
		},
	)
}

func (d *CampusBot) profileUpdateGradYear(
	ctx context.Context,
	user *User,
	anchor *Anchor,
) error {
	form, err := d.newFormPrompt(
		"Update your graduation year",
		FormField{
			Key:       profileFieldGradYear,
			Label:     "Graduation year",
			Required:  true,
			MinLength: 4,
			MaxLength: 4,
		},
	)
	if err != nil {
		return err
	}
	form.Validate = func(values map[string]string) error {
		return validateGraduationYear(values[profileFieldGradYear])
	}
	values, anchor, err := form.Start(ctx, OriginFromAnchor(anchor))
	if err != nil || values == nil {
		return err
	}
	year, _ := strconv.Atoi(strings.TrimSpace(values[profileFieldGradYear]))
	return d.applyProfileUpdate(
		ctx, user, anchor, map[string]any{
			"profile__graduation_year": float64(year),
		},
	)
}

func (d *CampusBot) profileUpdateMajors(
	ctx context.Context,
	user *User,
	profile UserProfile,
	anchor *Anchor,
) error {
	majors, anchor, err := d.collectMajors(ctx, anchor, profile.Major)
	if err != nil || majors == nil {
		return err
	}
	majorValues := make([]any, 0, len(majors))
	for _, major := range majors {
		majorValues = append(majorValues, major)
	}
	return d.applyProfileUpdate(
		ctx, user, anchor, map[string]any{"profile__major": majorValues},
	)
}

func (d *CampusBot) profileShow(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	user, err := d.loadUser(ctx, i)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	if user == nil || !user.HasProfile() {
		d.respondEphemeral(
			ctx,
			i,
			"You don't have a profile yet. Use `/profile create` first!",
		)
		return nil
	}
	embed, err := profileEmbed(user)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	d.respondEphemeralEmbed(ctx, i, embed)
	return nil
}

func (d *CampusBot) profileDelete(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	logger := d.commandLogger(ctx, DiscordSlashCommandProfile)
	ctx = WithLogger(ctx, logger)

	user, err := d.loadUser(ctx, i)
	if err != nil {
		d.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return err
	}
	if user == nil {
		d.respondEphemeral(ctx, i, "You don't have a profile to delete.")
		return nil
	}

	confirm, err := d.newConfirmPrompt(
		"This permanently deletes your profile, including your verified "+
			"email and student ID. Are you sure?",
	)
	if err != nil {
		return err
	}
	accepted, anchor, err := confirm.Destructive("Delete profile").
		Start(ctx, OriginFromInteraction(i))
	if err != nil || accepted == nil || !*accepted {
		return err
	}

	if err = d.writeDB.Delete(ctx, user); err != nil {
		logger.ErrorContext(ctx, "error deleting user", tint.Err(err))
		d.finishAnchor(ctx, anchor, DefaultDiscordErrorMessage)
		return err
	}
	logger.InfoContext(ctx, "profile deleted", "user_id", user.ID)
	d.finishAnchor(ctx, anchor, "Your profile has been deleted.")
	return nil
}

func profileEmbed(user *User) (*discordgo.MessageEmbed, error) {
	profile, err := user.Profile()
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(
		strings.Join(
			[]string{profile.Name.First, profile.Name.Middle, profile.Name.Last},
			" ",
		),
	)
	name = strings.Join(strings.Fields(name), " ")

	fields := []*discordgo.MessageEmbedField{
		{Name: "Name", Value: name, Inline: true},
		{Name: "School email", Value: profile.SchoolEmail, Inline: true},
		{Name: "Student ID", Value: profile.StudentID, Inline: true},
	}
	if len(profile.Major) > 0 {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:   "Major(s)",
				Value:  strings.Join(profile.Major, ", "),
				Inline: true,
			},
		)
	}
	if profile.GraduationYear > 0 {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:   "Graduation year",
				Value:  strconv.Itoa(profile.GraduationYear),
				Inline: true,
			},
		)
	}
	if profile.Phone != "" {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:   "Phone",
				Value:  profile.Phone,
				Inline: true,
			},
		)
	}

	return &discordgo.MessageEmbed{
		Title:  "Member profile",
		Fields: fields,
	}, nil
}
