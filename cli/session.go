package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/petal-labs/canvasflow/config"
	"github.com/petal-labs/canvasflow/credentials"
	"github.com/petal-labs/canvasflow/nodes"
	"github.com/petal-labs/canvasflow/plugin"
	"github.com/petal-labs/canvasflow/registry"
)

// session is the environment a command works in: resolved settings, a
// registry with the built-in and plugin node types, and the key chain the
// nodes read API keys from.
type session struct {
	settings config.Settings
	registry *registry.Registry
	plugins  *plugin.Loader
	keys     credentials.Store
	keyDB    *credentials.SQLiteStore
	logger   *slog.Logger
}

// addSessionFlags registers the flags openSession reads.
func addSessionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringArray("api-key", nil, "Set a service API key (repeatable, e.g. --api-key openai=sk-...)")
	f.String("models-dir", "", "Directory scanned for local "+nodes.ModelExt+" models")
	f.String("credentials-db", "", "Path to the encrypted API key database")
	f.String("plugins", "", "Directory of plugin manifests")
}

// resolveSettings layers the command's flags over env vars and the config
// file.
func resolveSettings(cmd *cobra.Command) (config.Settings, error) {
	keyFlags, _ := cmd.Flags().GetStringArray("api-key")
	keys, err := config.ParseKeyFlags(keyFlags)
	if err != nil {
		return config.Settings{}, exitError(exitUsage, "invalid --api-key: %v", err)
	}
	s, err := config.Resolve(config.Flags{
		ModelsDir:     flagString(cmd, "models-dir"),
		CredentialsDB: flagString(cmd, "credentials-db"),
		PluginsDir:    flagString(cmd, "plugins"),
		HistoryDB:     flagString(cmd, "history"),
		OTLPEndpoint:  flagString(cmd, "otel-endpoint"),
		APIKeys:       keys,
	})
	if err != nil {
		return config.Settings{}, exitError(exitUsage, "loading config: %v", err)
	}
	return s, nil
}

// openSession resolves settings and builds the registry. The credentials
// database is opened only when it already exists; a missing plugin
// directory is ignored and broken manifests are logged and skipped.
func openSession(cmd *cobra.Command) (*session, error) {
	settings, err := resolveSettings(cmd)
	if err != nil {
		return nil, err
	}

	s := &session{
		settings: settings,
		registry: registry.New(),
		logger:   slog.Default(),
	}

	chain := credentials.Chain{credentials.StaticStore(settings.APIKeys)}
	if settings.CredentialsDB != "" {
		if _, err := os.Stat(settings.CredentialsDB); err == nil {
			db, err := credentials.OpenSQLiteStore(settings.CredentialsDB)
			if err != nil {
				return nil, exitError(exitProvider, "opening credentials database: %v", err)
			}
			s.keyDB = db
			chain = append(chain, db)
		}
	}
	s.keys = chain

	nodes.RegisterBuiltins(s.registry, nodes.Deps{
		Credentials: s.keys,
		Models:      nodes.DirCatalog{Dir: settings.ModelsDirectory},
	})

	s.plugins = plugin.NewLoader(s.registry, s.logger)
	if settings.PluginsDir != "" {
		infos, err := s.plugins.LoadDir(settings.PluginsDir)
		switch {
		case errors.Is(err, fs.ErrNotExist) && len(infos) == 0:
			s.logger.Debug("plugin directory not found", "dir", settings.PluginsDir)
		case err != nil:
			s.logger.Warn("some plugins failed to load", "dir", settings.PluginsDir, "error", err)
		}
	}
	return s, nil
}

// Close releases the credentials database.
func (s *session) Close() {
	if s.keyDB != nil {
		_ = s.keyDB.Close()
	}
}

// openKeyDB opens the credentials database for writing, creating its
// directory when needed.
func openKeyDB(settings config.Settings) (*credentials.SQLiteStore, error) {
	if settings.CredentialsDB == "" {
		return nil, exitError(exitUsage, "no credentials database configured")
	}
	if err := os.MkdirAll(filepath.Dir(settings.CredentialsDB), 0o700); err != nil {
		return nil, exitError(exitRuntime, "creating %s: %v", filepath.Dir(settings.CredentialsDB), err)
	}
	db, err := credentials.OpenSQLiteStore(settings.CredentialsDB)
	if err != nil {
		return nil, exitError(exitProvider, "opening credentials database: %v", err)
	}
	return db, nil
}

// flagString returns the value of a string flag, or "" when the command
// does not define it.
func flagString(cmd *cobra.Command, name string) string {
	if cmd.Flags().Lookup(name) == nil {
		return ""
	}
	v, _ := cmd.Flags().GetString(name)
	return v
}

func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}

func plural(count int, word string) string {
	return fmt.Sprintf("%d %s", count, pluralize(word, count))
}
