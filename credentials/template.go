package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"
)

// SecretProvider resolves a secret reference to its value.
type SecretProvider func(ctx context.Context, ref string) (string, error)

// funcs returns the template functions for one render. Provider lookups are
// memoized for the duration of the render so a secret referenced twice is
// fetched once.
func (r *Resolver) funcs(ctx context.Context) template.FuncMap {
	fm := template.FuncMap{
		"env":        lookupEnv,
		"envDefault": envDefault,
		"file":       readSecretFile,
		"json":       jsonString,
	}

	seen := make(map[string]string)
	for name, provider := range r.providers {
		fm[name] = func(ref string) (string, error) {
			key := name + ":" + ref
			if v, ok := seen[key]; ok {
				return v, nil
			}
			v, err := provider(ctx, ref)
			if err != nil {
				return "", fmt.Errorf("provider %q failed for ref %q: %w", name, ref, err)
			}
			seen[key] = v
			return v, nil
		}
	}
	return fm
}

func lookupEnv(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("environment variable %q is not set", key)
	}
	return v, nil
}

func envDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// readSecretFile returns the trimmed contents of path, for mounted secrets.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator's template
	if err != nil {
		return "", fmt.Errorf("reading file %q: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// jsonString quotes v so it can be embedded in a JSON or YAML document.
func jsonString(v string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("JSON encoding value: %w", err)
	}
	return string(b), nil
}
