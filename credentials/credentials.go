// Package credentials stores and looks up per-service API keys.
//
// Services are the names nodes ask for: "openai", "grok", "anthropic",
// "brave-search". Keys at rest are encrypted with AES-GCM.
package credentials

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
)

// ErrNotFound is returned when no key is stored for a service.
var ErrNotFound = errors.New("api key not found")

// Store looks up API keys.
type Store interface {
	APIKey(ctx context.Context, service string) (string, error)
}

// Manager is a Store that can also persist and remove keys.
type Manager interface {
	Store
	Save(ctx context.Context, service, apiKey string) error
	Delete(ctx context.Context, service string) error
	Services(ctx context.Context) ([]string, error)
}

// EnvPrefix prefixes the environment variables read by EnvStore.
const EnvPrefix = "CANVASFLOW_API_KEY_"

// EnvVar returns the environment variable holding the key for service,
// e.g. brave-search -> CANVASFLOW_API_KEY_BRAVE_SEARCH.
func EnvVar(service string) string {
	name := strings.ToUpper(strings.TrimSpace(service))
	name = strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name)
	return EnvPrefix + name
}

// EnvStore reads keys from the environment.
type EnvStore struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// APIKey implements Store.
func (s EnvStore) APIKey(_ context.Context, service string) (string, error) {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvVar(service)); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	return "", ErrNotFound
}

// StaticStore serves keys from a fixed map, as given on the command line.
type StaticStore map[string]string

// APIKey implements Store.
func (s StaticStore) APIKey(_ context.Context, service string) (string, error) {
	if v := strings.TrimSpace(s[service]); v != "" {
		return v, nil
	}
	return "", ErrNotFound
}

// Chain consults stores in order and returns the first key found. Errors
// other than ErrNotFound stop the lookup.
type Chain []Store

// APIKey implements Store.
func (c Chain) APIKey(ctx context.Context, service string) (string, error) {
	for _, s := range c {
		if s == nil {
			continue
		}
		key, err := s.APIKey(ctx, service)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", ErrNotFound
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var (
	_ Store = EnvStore{}
	_ Store = StaticStore{}
	_ Store = Chain{}
)
