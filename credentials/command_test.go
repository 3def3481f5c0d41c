package credentials

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandProvider(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}

	creds, err := resolve(t, `{"auth_token": {{ vault "token" | json }}}`,
		WithProvider("vault", CommandProvider("echo", "secret-for")))
	require.NoError(t, err)
	require.Equal(t, "secret-for token", creds.AuthToken)
}

func TestCommandProvider_Failure(t *testing.T) {
	p := CommandProvider("cache-purge-no-such-binary", "read")
	_, err := p(context.Background(), "ref")
	require.Error(t, err)
	require.Contains(t, err.Error(), `cache-purge-no-such-binary "ref"`)

	_, err = CommandProvider()(context.Background(), "ref")
	require.Error(t, err)
}

func TestBuiltinProvidersRegistered(t *testing.T) {
	r := NewResolver(WithOnePassword(), WithSSM())
	require.Contains(t, r.providers, "op")
	require.Contains(t, r.providers, "ssm")
}
