package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"codeberg.org/dirsync/dirsync/pkg/audit"
	"codeberg.org/dirsync/dirsync/pkg/config"
	"codeberg.org/dirsync/dirsync/pkg/directory"
	"codeberg.org/dirsync/dirsync/pkg/engine"
	"codeberg.org/dirsync/dirsync/pkg/identity"
	"codeberg.org/dirsync/dirsync/pkg/ledger"
	"codeberg.org/dirsync/dirsync/pkg/settings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	var rootCmd = &cobra.Command{
		Use:   "dirsyncctl",
		Short: "dirsyncctl controls the dirsync directory synchronization engine",
		Long:  `A command line tool to validate, preview and trigger LDAP directory sync runs.`,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/dirsync/config.yaml", "Path to config")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPreviewCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newHistoryCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadSettings() (*config.Config, *settings.Settings, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading config: %w", err)
	}
	s, err := settings.FromMap(cfg.Sync)
	if err != nil {
		return nil, nil, err
	}
	return cfg, s, nil
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the persisted sync settings",
		Run: func(cmd *cobra.Command, args []string) {
			_, s, err := loadSettings()
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			if err := s.Validate(); err != nil {
				fmt.Printf("Settings invalid: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Settings OK")
		},
	}
}

func newPreviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Dry-run one sync and show what it would change",
		Run: func(cmd *cobra.Command, args []string) {
			runSync(true)
		},
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one sync now",
		Run: func(cmd *cobra.Command, args []string) {
			runSync(false)
		},
	}
}

func runSync(preview bool) {
	cfg, s, err := loadSettings()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	logger := zap.NewNop()
	if !preview {
		logger, _ = zap.NewProduction()
		defer logger.Sync()
	}

	store, err := identity.OpenSQLite(filepath.Join(cfg.Data.Dir, "identity.db"))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	records, err := ledger.Open(filepath.Join(cfg.Data.Dir, "syncrecords.db"))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer records.Close()

	sink, err := audit.OpenSQLite(filepath.Join(cfg.Data.Dir, "audit.db"))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer sink.Close()

	client := directory.NewClient(s, logger)
	runner := engine.New(s, client, store, records, sink, logger)
	runner.SetPreviewOnly(preview)

	if err := runner.DoSync(); err != nil {
		fmt.Printf("Sync failed: %v\n", err)
		os.Exit(1)
	}

	for _, msg := range runner.Messages() {
		fmt.Println(msg)
	}
}

func newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs from the audit log",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, _, err := loadSettings()
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}

			sink, err := audit.OpenSQLite(filepath.Join(cfg.Data.Dir, "audit.db"))
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			defer sink.Close()

			records, err := sink.Recent(limit)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, '\t', 0)
			fmt.Fprintln(w, "CREATED\tADDED\tREMOVED\tMEMBERSHIPS\tCOMMENT")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n",
					r.Created.Format("2006-01-02 15:04:05"),
					r.UsersGroupsAdded, r.UsersGroupsRemoved, r.MembershipsChanged, r.Comment)
			}
			w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}
