package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/healsink/pkg/config"
	"github.com/ajitpratap0/healsink/pkg/dialect"
	"github.com/ajitpratap0/healsink/pkg/registry"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "healsink",
		Short: "healsink - self-healing relational writer",
		Long: `healsink writes semi-structured records into MySQL, PostgreSQL or SQLite
with upsert semantics. When the store rejects a write because the schema does
not fit the record, healsink creates the missing database, table or column
(or widens a column that is too narrow) and retries.`,
		SilenceUsage: true,
	}

	root.AddCommand(newVersionCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newTablesCommand())
	root.AddCommand(newClassifyCommand())
	root.AddCommand(newConfigCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "healsink v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "Dialects: %s\n", strings.Join(dialect.Names(), ", "))
		},
	}
}

func newRunCommand() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Write JSON lines into the configured store",
		Long: `Read one JSON object per line and write each one through the pipeline.
The target table comes from the "_table" key or write.default_table.

Example:
  healsink run --config healsink.yaml --input orders.jsonl
  cat orders.jsonl | healsink run --config healsink.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to the configuration file (required)")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "-", "JSON lines file, or - for stdin")
	cmd.Flags().BoolVar(&opts.stopOnError, "stop-on-error", false, "Abort at the first failed or malformed item")
	cmd.Flags().DurationVar(&opts.reportInterval, "report-interval", 10*time.Second, "Progress log interval (0 disables)")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "Override write.strategy (blocking or queued)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Override write.workers")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Override observability.log_level")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newTablesCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List the registered tables and their comments",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			reg, err := registry.New(cfg.Tables.Prefix, cfg.Tables.Entries)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TABLE\tCOMMENT")
			for _, t := range reg.Tables() {
				fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Comment())
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file (required)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newClassifyCommand() *cobra.Command {
	var dialectName string
	cmd := &cobra.Command{
		Use:   "classify <error text>",
		Short: "Show how a store error would be classified",
		Example: `  healsink classify --dialect mysql "Error 1054 (42S22): Unknown column 'sku' in 'field list'"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := dialect.Get(dialectName)
			if err != nil {
				return err
			}
			raw := strings.Join(args, " ")
			cl := d.Classifier().Classify(raw)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kind:        %s\n", cl.Kind)
			fmt.Fprintf(out, "recoverable: %t\n", cl.Recoverable())
			if cl.Table != "" {
				fmt.Fprintf(out, "table:       %s\n", cl.Table)
			}
			if cl.Column != "" {
				fmt.Fprintf(out, "column:      %s\n", cl.Column)
			}
			if cl.Code != "" {
				fmt.Fprintf(out, "code:        %s\n", cl.Code)
			}
			if d.Classifier().AlreadyApplied(raw) {
				fmt.Fprintln(out, "note:        matches an already-applied DDL signature")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dialectName, "dialect", "d", "mysql", "Store dialect")
	return cmd
}

func newConfigCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.NewConfig("healsink")
			if configFile != "" {
				loaded, err := config.Load(configFile)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			data, err := config.Marshal(cfg.Redacted())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			if err != nil {
				return err
			}
			if verr := cfg.Validate(); verr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", verr)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file (defaults when omitted)")
	return cmd
}
