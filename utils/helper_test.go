package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationFromEnv(t *testing.T) {
	t.Setenv("SYNC_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, DurationFromEnv("SYNC_TEST_DURATION", time.Minute))

	t.Setenv("SYNC_TEST_DURATION", "45")
	assert.Equal(t, 45*time.Second, DurationFromEnv("SYNC_TEST_DURATION", time.Minute))

	t.Setenv("SYNC_TEST_DURATION", "soon")
	assert.Equal(t, time.Minute, DurationFromEnv("SYNC_TEST_DURATION", time.Minute))
}

func TestEnvBoolDefault(t *testing.T) {
	t.Setenv("SYNC_TEST_BOOL", "off")
	assert.False(t, EnvBoolDefault("SYNC_TEST_BOOL", true))
	t.Setenv("SYNC_TEST_BOOL", "Y")
	assert.True(t, EnvBoolDefault("SYNC_TEST_BOOL", false))
	t.Setenv("SYNC_TEST_BOOL", "maybe")
	assert.True(t, EnvBoolDefault("SYNC_TEST_BOOL", true))
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, SplitAndTrim("  "))
	assert.Equal(t, []string{"a", "b"}, SplitAndTrim(" a ,, b ,"))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0))
	assert.Equal(t, 8*time.Second, Backoff(3))
	assert.Equal(t, 30*time.Second, Backoff(9))
}

func TestJwtRoundTrip(t *testing.T) {
	SetJwtSecret("round-trip")
	t.Cleanup(func() { SetJwtSecret("") })

	token, err := JwtGenerate(42, "admin", time.Minute)
	require.NoError(t, err)

	parsed, err := JwtValidate(token)
	require.NoError(t, err)
	claim, ok := parsed.Claims.(*JwtCustomClaim)
	require.True(t, ok)
	assert.Equal(t, 42, claim.ID)
	assert.Equal(t, "admin", claim.Role)
}

func TestJwtGenerate_RequiresSecret(t *testing.T) {
	SetJwtSecret("")
	_, err := JwtGenerate(1, "admin", time.Minute)
	assert.Error(t, err)
}
