package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/canvasflow/credentials"
)

// NewKeysCmd creates the "keys" subcommand.
func NewKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored service API keys",
	}
	cmd.PersistentFlags().String("credentials-db", "", "Path to the encrypted API key database")

	set := &cobra.Command{
		Use:   "set <service> [key]",
		Short: "Store an API key (read from stdin when omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runKeysSet,
	}
	get := &cobra.Command{
		Use:   "get <service>",
		Short: "Show a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeysGet,
	}
	get.Flags().Bool("show", false, "Print the full key instead of a masked form")
	del := &cobra.Command{
		Use:   "delete <service>",
		Short: "Remove a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeysDelete,
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List services with a stored key",
		Args:  cobra.NoArgs,
		RunE:  runKeysList,
	}
	cmd.AddCommand(set, get, del, list)

	return cmd
}

func withKeyDB(cmd *cobra.Command, fn func(db *credentials.SQLiteStore) error) error {
	settings, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	db, err := openKeyDB(settings)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func runKeysSet(cmd *cobra.Command, args []string) error {
	service := args[0]
	var key string
	if len(args) == 2 {
		key = args[1]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return exitError(exitUsage, "reading key from stdin: %v", err)
		}
		key = line
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return exitError(exitUsage, "empty API key")
	}

	return withKeyDB(cmd, func(db *credentials.SQLiteStore) error {
		if err := db.Save(cmd.Context(), service, key); err != nil {
			return exitError(exitProvider, "%v", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved API key for %s.\n", service)
		return nil
	})
}

func runKeysGet(cmd *cobra.Command, args []string) error {
	show, _ := cmd.Flags().GetBool("show")
	return withKeyDB(cmd, func(db *credentials.SQLiteStore) error {
		key, err := db.APIKey(cmd.Context(), args[0])
		if errors.Is(err, credentials.ErrNotFound) {
			return exitError(exitProvider, "no API key stored for %s", args[0])
		}
		if err != nil {
			return exitError(exitProvider, "%v", err)
		}
		if !show {
			key = maskKey(key)
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	})
}

func runKeysDelete(cmd *cobra.Command, args []string) error {
	return withKeyDB(cmd, func(db *credentials.SQLiteStore) error {
		err := db.Delete(cmd.Context(), args[0])
		if errors.Is(err, credentials.ErrNotFound) {
			return exitError(exitProvider, "no API key stored for %s", args[0])
		}
		if err != nil {
			return exitError(exitProvider, "%v", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted API key for %s.\n", args[0])
		return nil
	})
}

func runKeysList(cmd *cobra.Command, _ []string) error {
	return withKeyDB(cmd, func(db *credentials.SQLiteStore) error {
		services, err := db.Services(cmd.Context())
		if err != nil {
			return exitError(exitProvider, "%v", err)
		}
		out := cmd.OutOrStdout()
		if len(services) == 0 {
			fmt.Fprintln(out, "No API keys stored.")
			return nil
		}
		for _, s := range services {
			fmt.Fprintln(out, s)
		}
		return nil
	})
}

// maskKey keeps the first and last four characters of long keys.
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
