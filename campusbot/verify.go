package campusbot

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	mailjet "github.com/mailjet/mailjet-apiv3-go/v4"
	"golang.org/x/time/rate"
)

// ErrCodeRequestThrottled indicates a verification email was requested
// again before the per-user cooldown elapsed.
var ErrCodeRequestThrottled = errors.New("verification code requested too soon")

// MailSender delivers a plain-text message to a single recipient.
// [mailjetSender] implements this for 'real' delivery; tests substitute
// their own.
type MailSender interface {
	Send(ctx context.Context, to string, subject string, body string) error
}

type mailjetSender struct {
	client    *mailjet.Client
	fromEmail string
	fromName  string
	logger    *slog.Logger
}

func newMailjetSender(config *MailConfig, log *slog.Logger) *mailjetSender {
	if log == nil {
		log = slog.Default()
	}
	return &mailjetSender{
		client:    mailjet.NewMailjetClient(config.APIKey, config.SecretKey),
		fromEmail: config.FromEmail,
		fromName:  config.FromName,
		logger:    log.With(loggerNameKey, "mailjet"),
	}
}

func (m *mailjetSender) Send(
	ctx context.Context,
	to string,
	subject string,
	body string,
) error {
	messages := mailjet.MessagesV31{
		Info: []mailjet.InfoMessagesV31{
			{
				From: &mailjet.RecipientV31{
					Email: m.fromEmail,
					Name:  m.fromName,
				},
				To: &mailjet.RecipientsV31{
					mailjet.RecipientV31{Email: to},
				},
				Subject:  subject,
				TextPart: body,
			},
		},
	}
	res, err := m.client.SendMailV31(&messages)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDelivery, err.Error())
	}
	for _, result := range res.ResultsV31 {
		if result.Status != "success" {
			m.logger.ErrorContext(
				ctx,
				"mail provider rejected message",
				"status", result.Status,
				"to", to,
			)
			return fmt.Errorf("%w: provider status %q", ErrDelivery, result.Status)
		}
	}
	m.logger.InfoContext(ctx, "sent verification email", "to", to)
	return nil
}

type pendingCode struct {
	code        string
	destination string
	issuedAt    time.Time
}

// Verifier issues and checks short-lived email verification codes.
// Codes live only in process memory: a restart simply means the user
// requests a new one. At most one code is pending per requester; issuing
// a new code replaces any previous one.
type Verifier struct {
	mu       sync.Mutex
	codes    map[string]pendingCode
	limiters map[string]*rate.Limiter
	sender   MailSender
	cooldown time.Duration
	logger   *slog.Logger
}

// NewVerifier returns a Verifier delivering codes via the given sender,
// with a per-requester issuance cooldown (0 disables throttling).
func NewVerifier(
	sender MailSender,
	cooldown time.Duration,
	log *slog.Logger,
) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{
		codes:    map[string]pendingCode{},
		limiters: map[string]*rate.Limiter{},
		sender:   sender,
		cooldown: cooldown,
		logger:   log.With(loggerNameKey, "verifier"),
	}
}

// Issue generates a fresh code for the requester, stores it (replacing
// any pending code), and emails it to the destination. The pending code
// is only recorded if delivery succeeds, so a failed send never leaves a
// stale code behind.
func (v *Verifier) Issue(
	ctx context.Context,
	requesterID string,
	destination string,
) error {
	if !v.allow(requesterID) {
		return fmt.Errorf(
			"%w (wait %s between requests)",
			ErrCodeRequestThrottled,
			v.cooldown,
		)
	}

	code, err := generateVerificationCode(DefaultVerifyCodeLength)
	if err != nil {
		return err
	}

	body := fmt.Sprintf(
		"Your verification code is: %s\n\n"+
			"Enter this code in Discord to verify your school email. "+
			"If you didn't request this, you can ignore this message.",
		code,
	)
	if err := v.sender.Send(ctx, destination, DefaultMailSubject, body); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.codes[requesterID] = pendingCode{
		code:        code,
		destination: destination,
		issuedAt:    time.Now(),
	}
	v.logger.InfoContext(ctx, "issued verification code", "requester_id", requesterID)
	return nil
}

// Verify reports whether the submitted code matches the requester's
// pending code. A match consumes the code; a mismatch (or no pending
// code) leaves state untouched, so the user can retry.
func (v *Verifier) Verify(requesterID string, code string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	pending, ok := v.codes[requesterID]
	if !ok {
		return false
	}
	if pending.code != code {
		return false
	}
	delete(v.codes, requesterID)
	return true
}

// Destination returns the address the requester's pending code was sent
// to, if any.
func (v *Verifier) Destination(requesterID string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pending, ok := v.codes[requesterID]
	return pending.destination, ok
}

func (v *Verifier) allow(requesterID string) bool {
	if v.cooldown <= 0 {
		return true
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	limiter, ok := v.limiters[requesterID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(v.cooldown), 1)
		v.limiters[requesterID] = limiter
	}
	return limiter.Allow()
}

// generateVerificationCode returns a uniformly random numeric code of
// the given length, left-padded with zeroes.
func generateVerificationCode(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
