package password_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/authcore/internal/password"
)

func TestHashAndVerify(t *testing.T) {
	hasher := password.NewHasher(password.Params{Time: 1, Memory: 16 * 1024, Threads: 1})

	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$"))
	require.NotContains(t, hash, "correct horse")

	ok, err := password.Verify("correct horse battery staple", hash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsAnyMutation(t *testing.T) {
	hasher := password.NewHasher(password.Params{Time: 1, Memory: 16 * 1024, Threads: 1})
	hash, err := hasher.Hash("pw")
	require.NoError(t, err)

	for _, candidate := range []string{"pw ", " pw", "pW", "p", "pww", ""} {
		ok, err := password.Verify(candidate, hash)
		require.NoError(t, err)
		require.False(t, ok, "candidate %q must not verify", candidate)
	}
}

func TestVerifySurvivesCostRaise(t *testing.T) {
	old := password.NewHasher(password.Params{Time: 1, Memory: 16 * 1024, Threads: 1})
	hash, err := old.Hash("stable-password")
	require.NoError(t, err)

	// A new hasher with raised costs plays no part in verification; the hash
	// carries its own parameters.
	ok, err := password.Verify("stable-password", hash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyInvalidHashFormats(t *testing.T) {
	for _, hash := range []string{"", "$argon2id$bogus", "$bcrypt$v=19$m=1,t=1,p=1$aa$bb", "plaintext"} {
		_, err := password.Verify("pw", hash)
		require.Error(t, err, hash)
	}
}

func TestHashesAreSalted(t *testing.T) {
	hasher := password.NewHasher(password.Params{Time: 1, Memory: 16 * 1024, Threads: 1})

	first, err := hasher.Hash("pw")
	require.NoError(t, err)
	second, err := hasher.Hash("pw")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}
