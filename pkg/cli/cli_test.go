package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwire/mcpd/pkg/auth"
	"github.com/mcpwire/mcpd/pkg/config"
)

// execute runs the root command and restores the package-level flag
// variables afterwards; cobra keeps parsed values between runs, so a
// flag set by one test would otherwise bleed into the next.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		tokenFlagVals = tokenFlags{ttl: time.Hour}
		serveFlagVals = serveFlags{}
	})
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mcpd")
	assert.Contains(t, out, "go1.")
}

func TestTokenCommand_MintsVerifiableToken(t *testing.T) {
	out, err := execute(t, "token", "--secret", "test-secret", "--subject", "ci")
	require.NoError(t, err)

	token := out[:len(out)-1] // trailing newline
	claims, err := auth.NewVerifier([]byte("test-secret"), "").Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	_, err := execute(t, "token", "--subject", "ci")
	assert.Error(t, err)
}

func TestApplyServeFlags_OverridesConfig(t *testing.T) {
	cfg := config.Default()
	f := &serveFlags{listen: "127.0.0.1:9999", rateLimit: 50}
	require.NoError(t, serveCmd.Flags().Set("listen", f.listen))
	require.NoError(t, serveCmd.Flags().Set("rate-limit", "50"))
	t.Cleanup(func() {
		serveCmd.Flags().Set("listen", "")
		serveCmd.Flags().Set("rate-limit", "0")
	})

	applyServeFlags(serveCmd, f, cfg)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Listen)
	assert.Equal(t, 50.0, cfg.RateLimit.Rate)
}
