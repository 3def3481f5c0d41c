package credentials

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandProvider returns a SecretProvider that runs argv with the reference
// appended as the final argument and returns its trimmed stdout.
func CommandProvider(argv ...string) SecretProvider {
	return func(ctx context.Context, ref string) (string, error) {
		if len(argv) == 0 {
			return "", errors.New("no command configured")
		}
		args := append(argv[1:len(argv):len(argv)], ref)
		cmd := exec.CommandContext(ctx, argv[0], args...) //nolint:gosec // argv is fixed by the caller

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("%s %q: %s: %w", argv[0], ref, strings.TrimSpace(stderr.String()), err)
		}
		return strings.TrimSpace(stdout.String()), nil
	}
}

// WithOnePassword registers an "op" template function backed by `op read`.
func WithOnePassword() ResolverOption {
	return WithProvider("op", CommandProvider("op", "read"))
}

// WithSSM registers an "ssm" template function that reads a decrypted SSM
// parameter through the AWS CLI.
func WithSSM() ResolverOption {
	return WithProvider("ssm", CommandProvider(
		"aws", "ssm", "get-parameter",
		"--with-decryption",
		"--query", "Parameter.Value",
		"--output", "text",
		"--name",
	))
}
