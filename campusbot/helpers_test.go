package campusbot

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()

	first, err := generateRandomHexString(8)
	require.NoError(t, err)
	assert.Len(t, first, 16)

	second, err := generateRandomHexString(8)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel", truncate("hello", 3))
	assert.Equal(t, "", truncate("", 3))

	// counts runes, not bytes
	assert.Equal(t, "héll", truncate("héllo", 4))
}

func TestHashPassword(t *testing.T) {
	t.Parallel()

	hashed, err := HashPassword("s3cret!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hashed, "$argon2id$v=19$"))

	ok, err := verifyPassword(hashed, "s3cret!")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword(hashed, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	// salting makes hashes unique per call
	again, err := HashPassword("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, hashed, again)

	_, err = verifyPassword("not-a-hash", "s3cret!")
	assert.Error(t, err)
}

func TestDerive64ByteKey(t *testing.T) {
	t.Parallel()

	key := derive64ByteKey("some secret")
	assert.Len(t, key, 64)
	assert.Equal(t, key, derive64ByteKey("some secret"))
	assert.NotEqual(t, key, derive64ByteKey("other secret"))
}

func TestChunkItems(t *testing.T) {
	t.Parallel()

	chunks := chunkItems(2, "a", "b", "c", "d", "e")
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, chunks)

	assert.Nil(t, chunkItems[string](2))

	chunks = chunkItems(5, "a")
	assert.Equal(t, [][]string{{"a"}}, chunks)
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, ok := ContextLogger(ctx)
	assert.False(t, ok)

	logger := slog.Default().With("test", t.Name())
	ctx = WithLogger(ctx, logger)
	found, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Equal(t, logger, found)

	// a nil logger falls back to the default
	ctx = WithLogger(context.Background(), nil)
	found, ok = ContextLogger(ctx)
	require.True(t, ok)
	assert.NotNil(t, found)
}

func TestStructToSlogValue(t *testing.T) {
	t.Parallel()

	type creds struct {
		Username string `json:"username"`
		Password string `json:"password" log:"[redacted]"`
		Unset    string `json:"unset"`
	}

	value := structToSlogValue(creds{Username: "admin", Password: "hunter2"})
	attrs := value.Group()

	byKey := map[string]string{}
	for _, attr := range attrs {
		byKey[attr.Key] = attr.Value.String()
	}
	assert.Equal(t, "admin", byKey["username"])
	assert.Equal(t, "[redacted]", byKey["password"])

	// empty fields are omitted entirely
	assert.NotContains(t, byKey, "unset")

	assert.Equal(t, slog.AnyValue(nil), structToSlogValue(nil))
	var nilCreds *creds
	assert.Equal(t, slog.AnyValue(nil), structToSlogValue(nilCreds))
}
