package campusbot

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`code is: (\d+)`)

// mockMailSender records sent messages instead of delivering them.
type mockMailSender struct {
	mu      sync.Mutex
	sent    []mockMail
	sendErr error
}

type mockMail struct {
	to      string
	subject string
	body    string
}

func (m *mockMailSender) Send(
	_ context.Context,
	to string,
	subject string,
	body string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, mockMail{to: to, subject: subject, body: body})
	return nil
}

func (m *mockMailSender) lastCode(t testing.TB) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	match := codePattern.FindStringSubmatch(m.sent[len(m.sent)-1].body)
	require.Len(t, match, 2)
	return match[1]
}

func TestVerifierIssueAndVerify(t *testing.T) {
	t.Parallel()

	sender := &mockMailSender{}
	verifier := NewVerifier(sender, 0, nil)
	ctx := context.Background()

	require.NoError(t, verifier.Issue(ctx, "user-1", "pat@school.edu"))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "pat@school.edu", sender.sent[0].to)
	assert.Equal(t, DefaultMailSubject, sender.sent[0].subject)

	destination, ok := verifier.Destination("user-1")
	require.True(t, ok)
	assert.Equal(t, "pat@school.edu", destination)

	code := sender.lastCode(t)
	assert.Len(t, code, DefaultVerifyCodeLength)
	assert.True(t, verifier.Verify("user-1", code))

	// a match consumes the code
	assert.False(t, verifier.Verify("user-1", code))
	_, ok = verifier.Destination("user-1")
	assert.False(t, ok)
}

func TestVerifierWrongCodeRetains(t *testing.T) {
	t.Parallel()

	sender := &mockMailSender{}
	verifier := NewVerifier(sender, 0, nil)

	require.NoError(t, verifier.Issue(context.Background(), "user-1", "pat@school.edu"))
	code := sender.lastCode(t)

	assert.False(t, verifier.Verify("user-1", "000000x"))
	assert.False(t, verifier.Verify("user-2", code))

	// the pending code survives failed attempts
	assert.True(t, verifier.Verify("user-1", code))
}

func TestVerifierReissueReplacesCode(t *testing.T) {
	t.Parallel()

	sender := &mockMailSender{}
	verifier := NewVerifier(sender, 0, nil)
	ctx := context.Background()

	require.NoError(t, verifier.Issue(ctx, "user-1", "pat@school.edu"))
	firstCode := sender.lastCode(t)

	require.NoError(t, verifier.Issue(ctx, "user-1", "other@school.edu"))
	secondCode := sender.lastCode(t)

	if firstCode != secondCode {
		assert.False(t, verifier.Verify("user-1", firstCode))
	}
	assert.True(t, verifier.Verify("user-1", secondCode))
}

func TestVerifierThrottlesRequests(t *testing.T) {
	t.Parallel()

	sender := &mockMailSender{}
	verifier := NewVerifier(sender, time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, verifier.Issue(ctx, "user-1", "pat@school.edu"))

	err := verifier.Issue(ctx, "user-1", "pat@school.edu")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCodeRequestThrottled)

	// other requesters are unaffected
	require.NoError(t, verifier.Issue(ctx, "user-2", "sam@school.edu"))
}

func TestVerifierDeliveryFailureLeavesNoCode(t *testing.T) {
	t.Parallel()

	sender := &mockMailSender{
		sendErr: fmt.Errorf("%w: provider unavailable", ErrDelivery),
	}
	verifier := NewVerifier(sender, 0, nil)

	err := verifier.Issue(context.Background(), "user-1", "pat@school.edu")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDelivery)

	_, ok := verifier.Destination("user-1")
	assert.False(t, ok)
}

func TestGenerateVerificationCode(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := generateVerificationCode(DefaultVerifyCodeLength)
		require.NoError(t, err)
		require.Len(t, code, DefaultVerifyCodeLength)
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9')
		}
		seen[code] = true
	}
	// 50 identical six-digit codes would mean something is very wrong
	assert.Greater(t, len(seen), 1)
}
