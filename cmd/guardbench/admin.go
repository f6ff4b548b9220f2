package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/triage-ai/guardbench/internal/suite"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the Postgres tables guardbench uses",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var cl closers
		defer cl.close() //nolint:errcheck
		st, err := requireStore(cmd.Context(), cfg, &cl)
		if err != nil {
			return err
		}
		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Schema up to date.")
		return nil
	},
}

// --- suite ---

var suiteImportName string

var suiteCmd = &cobra.Command{
	Use:   "suite",
	Short: "Manage test suites stored in Postgres",
}

var suiteImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Validate a YAML suite and store its test cases",
	Long: `Validate a YAML suite file and replace the stored suite of the same name
with its test cases, so it can be run with --db-suite.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := suite.LoadFile(args[0])
		if err != nil {
			return err
		}
		name := suiteImportName
		if name == "" {
			name = s.Name
		}
		if name == "" {
			return fmt.Errorf("suite in %s has no name; pass --name", args[0])
		}

		var cl closers
		defer cl.close() //nolint:errcheck
		st, err := requireStore(cmd.Context(), cfg, &cl)
		if err != nil {
			return err
		}
		cases := s.TestCases()
		if err := st.ReplaceSuite(cmd.Context(), name, cases); err != nil {
			return err
		}
		logger.Info("suite imported", zap.String("suite", name), zap.Int("test_cases", len(cases)))
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d test cases into suite %q.\n", len(cases), name)
		return nil
	},
}

var suiteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored suites",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var cl closers
		defer cl.close() //nolint:errcheck
		st, err := requireStore(cmd.Context(), cfg, &cl)
		if err != nil {
			return err
		}
		names, err := st.ListSuites(cmd.Context())
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

// --- keys ---

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys for the HTTP API and gRPC classifier",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an API key (the key is printed once)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var cl closers
		defer cl.close() //nolint:errcheck
		st, err := requireStore(cmd.Context(), cfg, &cl)
		if err != nil {
			return err
		}
		k, plaintext, err := st.CreateAPIKey(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Created key %q (%s).\n", k.Name, k.Prefix)
		fmt.Fprintf(out, "API key: %s\n", plaintext)
		fmt.Fprintln(out, "Store it now; it cannot be shown again.")
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var cl closers
		defer cl.close() //nolint:errcheck
		st, err := requireStore(cmd.Context(), cfg, &cl)
		if err != nil {
			return err
		}
		keys, err := st.ListAPIKeys(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PREFIX\tNAME\tCREATED\tSTATUS")
		for _, k := range keys {
			status := "active"
			if k.RevokedAt != nil {
				status = "revoked " + k.RevokedAt.Format("2006-01-02")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k.Prefix, k.Name, k.CreatedAt.Format("2006-01-02 15:04"), status)
		}
		return tw.Flush()
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <prefix>",
	Short: "Revoke an API key by its prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var cl closers
		defer cl.close() //nolint:errcheck
		st, err := requireStore(cmd.Context(), cfg, &cl)
		if err != nil {
			return err
		}
		if err := st.RevokeAPIKey(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("revoke %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s.\n", args[0])
		return nil
	},
}

func init() {
	suiteImportCmd.Flags().StringVar(&suiteImportName, "name", "", "Suite name (defaults to the name in the file)")
	suiteCmd.AddCommand(suiteImportCmd)
	suiteCmd.AddCommand(suiteListCmd)

	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRevokeCmd)
}
