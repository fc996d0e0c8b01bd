package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestEnvVar(t *testing.T) {
	tests := map[string]string{
		"openai":       "CANVASFLOW_API_KEY_OPENAI",
		"brave-search": "CANVASFLOW_API_KEY_BRAVE_SEARCH",
		" grok ":       "CANVASFLOW_API_KEY_GROK",
	}
	for in, want := range tests {
		if got := EnvVar(in); got != want {
			t.Errorf("EnvVar(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnvStore(t *testing.T) {
	env := map[string]string{
		"CANVASFLOW_API_KEY_OPENAI": "  sk-env  ",
		"CANVASFLOW_API_KEY_GROK":   "   ",
	}
	s := EnvStore{Lookup: func(k string) (string, bool) { v, ok := env[k]; return v, ok }}

	key, err := s.APIKey(context.Background(), "openai")
	if err != nil || key != "sk-env" {
		t.Errorf("openai = %q, %v", key, err)
	}
	if _, err := s.APIKey(context.Background(), "grok"); !errors.Is(err, ErrNotFound) {
		t.Errorf("blank value err = %v", err)
	}
	if _, err := s.APIKey(context.Background(), "anthropic"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

type brokenStore struct{}

func (brokenStore) APIKey(context.Context, string) (string, error) {
	return "", errors.New("disk on fire")
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	c := Chain{StaticStore{"openai": "from-flag"}, nil, StaticStore{"openai": "ignored", "grok": "from-file"}}

	if key, err := c.APIKey(ctx, "openai"); err != nil || key != "from-flag" {
		t.Errorf("openai = %q, %v", key, err)
	}
	if key, err := c.APIKey(ctx, "grok"); err != nil || key != "from-file" {
		t.Errorf("grok = %q, %v", key, err)
	}
	if _, err := c.APIKey(ctx, "brave-search"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}

	broken := Chain{StaticStore{}, brokenStore{}, StaticStore{"x": "y"}}
	if _, err := broken.APIKey(ctx, "x"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("broken chain err = %v", err)
	}
}

func managers(t *testing.T) map[string]func(t *testing.T) Manager {
	return map[string]func(t *testing.T) Manager{
		"file": func(t *testing.T) Manager {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "keys", "api-keys.json"))
			if err != nil {
				t.Fatal(err)
			}
			return s
		},
		"sqlite": func(t *testing.T) Manager {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "credentials.db"))
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestManagers_SaveGetDelete(t *testing.T) {
	t.Setenv(SecretKeyEnv, "test-secret")
	for name, open := range managers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := open(t)

			if _, err := m.APIKey(ctx, "openai"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("empty store err = %v", err)
			}
			if err := m.Save(ctx, "openai", "sk-1"); err != nil {
				t.Fatal(err)
			}
			if err := m.Save(ctx, "brave-search", "bs-1"); err != nil {
				t.Fatal(err)
			}
			if err := m.Save(ctx, "openai", "sk-2"); err != nil {
				t.Fatal(err)
			}

			key, err := m.APIKey(ctx, "openai")
			if err != nil || key != "sk-2" {
				t.Errorf("openai = %q, %v", key, err)
			}
			services, err := m.Services(ctx)
			if err != nil || !reflect.DeepEqual(services, []string{"brave-search", "openai"}) {
				t.Errorf("Services = %v, %v", services, err)
			}

			if err := m.Delete(ctx, "openai"); err != nil {
				t.Fatal(err)
			}
			if err := m.Delete(ctx, "openai"); !errors.Is(err, ErrNotFound) {
				t.Errorf("second delete err = %v", err)
			}
			if _, err := m.APIKey(ctx, "openai"); !errors.Is(err, ErrNotFound) {
				t.Errorf("after delete err = %v", err)
			}
		})
	}
}

func TestManagers_RejectEmpty(t *testing.T) {
	for name, open := range managers(t) {
		t.Run(name, func(t *testing.T) {
			m := open(t)
			if err := m.Save(context.Background(), "", "k"); err == nil {
				t.Error("empty service accepted")
			}
			if err := m.Save(context.Background(), "openai", "  "); err == nil {
				t.Error("empty key accepted")
			}
		})
	}
}

func TestFileStore_EncryptsAtRest(t *testing.T) {
	t.Setenv(SecretKeyEnv, "test-secret")
	path := filepath.Join(t.TempDir(), "api-keys.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background(), "grok", "xai-secret-value"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "xai-secret-value") {
		t.Fatalf("plaintext key on disk: %s", data)
	}
	if !strings.Contains(string(data), encryptedPrefix) {
		t.Errorf("missing encrypted prefix: %s", data)
	}

	// A different secret cannot decrypt.
	t.Setenv(SecretKeyEnv, "other-secret")
	other, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.APIKey(context.Background(), "grok"); err == nil {
		t.Error("decrypted with the wrong secret")
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	t.Setenv(SecretKeyEnv, "test-secret")
	path := filepath.Join(t.TempDir(), "credentials.db")
	s, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background(), "anthropic", "ak-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	key, err := reopened.APIKey(context.Background(), "anthropic")
	if err != nil || key != "ak-1" {
		t.Errorf("after reopen = %q, %v", key, err)
	}
}

func TestNewFileStore_RequiresPath(t *testing.T) {
	if _, err := NewFileStore(" "); err == nil {
		t.Fatal("expected error")
	}
}
