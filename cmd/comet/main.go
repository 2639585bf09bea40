package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/cometdata/comet/pkg/config"
	"github.com/cometdata/comet/pkg/logger"
	"github.com/cometdata/comet/pkg/metrics"
	"github.com/cometdata/comet/pkg/table"
	"github.com/cometdata/comet/pkg/textimport"
)

var version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "comet",
		Short: "Comet - parallel CSV importer for partitioned columnar tables",
		Long: `Comet imports large unordered CSV files into time-partitioned columnar
tables. The file is split across workers, indexed per partition, loaded
into per-worker shadow tables and finally attached to the target table.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Comet v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newImportCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newImportCmd() *cobra.Command {
	var (
		configFile  string
		tableName   string
		inputFile   string
		partitionBy string
		delimiter   string
		tsColumn    string
		tsFormat    string
		forceHeader bool
		atomicity   string
		workers     int
		minChunk    int64
		workRoot    string
		tableRoot   string
		logLevel    string
		metricsAddr string
		enableTrace bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a CSV file into a partitioned table",
		Long: `Import a CSV file into a time-partitioned table. The target table is
created from the detected structure when absent; a pre-existing target
must be empty and partitioned by the same unit.

Gzipped inputs (*.gz) are decompressed into the work directory first,
since parallel import needs random access to the plain file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logger.Config{Level: logLevel, Encoding: "console"}); err != nil {
				return err
			}
			defer logger.Sync()
			log := logger.Get()

			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if workRoot != "" {
				cfg.WorkRoot = workRoot
			}
			if tableRoot != "" {
				cfg.TableRoot = tableRoot
			}
			if workers > 0 {
				cfg.Workers = workers
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if enableTrace {
				exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
				if err != nil {
					return err
				}
				tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
				otel.SetTracerProvider(tp)
				defer tp.Shutdown(context.Background())
			}

			collector := metrics.NewCollector(nil)
			if metricsAddr != "" {
				go serveMetrics(log, metricsAddr)
			}

			pb, err := table.ParsePartitionBy(partitionBy)
			if err != nil {
				return err
			}
			policy, err := textimport.ParseAtomicity(atomicity)
			if err != nil {
				return err
			}
			var delim byte
			if delimiter != "" {
				delim = delimiter[0]
			}

			input := inputFile
			if strings.HasSuffix(input, ".gz") {
				input, err = decompressInput(log, cfg.WorkRoot, input)
				if err != nil {
					return err
				}
				defer os.Remove(input)
			}

			importer := textimport.NewImporter(cfg,
				textimport.WithLogger(log),
				textimport.WithMetrics(collector),
			)
			if minChunk > 0 {
				importer.SetMinChunkSize(minChunk)
			}

			if err := importer.Configure(textimport.Job{
				Table:           tableName,
				InputPath:       input,
				PartitionBy:     pb,
				Delimiter:       delim,
				TimestampColumn: tsColumn,
				TimestampFormat: tsFormat,
				ForceHeader:     forceHeader,
				Atomicity:       policy,
			}); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			stats, runErr := importer.Run(ctx)
			if stats != nil {
				out, _ := json.MarshalIndent(stats, "", "  ")
				fmt.Println(string(out))
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to yaml configuration file (optional)")
	cmd.Flags().StringVarP(&tableName, "table", "t", "", "Target table name (required)")
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input CSV file; .gz inputs are decompressed first (required)")
	cmd.Flags().StringVar(&partitionBy, "partition-by", "DAY", "Partition unit: YEAR, MONTH, DAY or HOUR")
	cmd.Flags().StringVar(&delimiter, "delimiter", "", "Column delimiter; auto-detected when empty")
	cmd.Flags().StringVar(&tsColumn, "timestamp", "", "Designated timestamp column name")
	cmd.Flags().StringVar(&tsFormat, "ts-format", "", "Timestamp layout; the default set is tried when empty")
	cmd.Flags().BoolVar(&forceHeader, "force-header", false, "Treat the first line as a header regardless of detection")
	cmd.Flags().StringVar(&atomicity, "atomicity", "skip_col", "Row error policy: skip_col, skip_row or skip_all")
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker pool size; defaults to the CPU count")
	cmd.Flags().Int64Var(&minChunk, "min-chunk-size", 0, "Minimum boundary-scan chunk size in bytes")
	cmd.Flags().StringVar(&workRoot, "work-root", "", "Directory for import work files and shadow tables")
	cmd.Flags().StringVar(&tableRoot, "table-root", "", "Directory holding target tables")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the import")
	cmd.Flags().BoolVar(&enableTrace, "trace", false, "Emit per-phase trace spans to stdout")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// loadConfig merges, in order: defaults, the optional config file, and
// COMET_* environment variables.
func loadConfig(path string) (*config.ImportConfig, error) {
	cfg := config.DefaultImportConfig()
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	v := viper.New()
	v.SetEnvPrefix("COMET")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"work_root", "table_root", "workers", "min_chunk_size", "buffer_size"} {
		_ = v.BindEnv(key)
	}

	if s := v.GetString("work_root"); s != "" {
		cfg.WorkRoot = s
	}
	if s := v.GetString("table_root"); s != "" {
		cfg.TableRoot = s
	}
	if n := v.GetInt("workers"); n > 0 {
		cfg.Workers = n
	}
	if n := v.GetInt64("min_chunk_size"); n > 0 {
		cfg.MinChunkSize = n
	}
	if n := v.GetInt("buffer_size"); n > 0 {
		cfg.BufferSize = n
	}
	return cfg, nil
}

func serveMetrics(log *zap.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}

// decompressInput inflates a gzipped input into the work root so the
// importer can seek in it.
func decompressInput(log *zap.Logger, workRoot, path string) (string, error) {
	if err := os.MkdirAll(workRoot, 0o755); err != nil {
		return "", err
	}

	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gz.Close()

	base := strings.TrimSuffix(filepath.Base(path), ".gz")
	outPath := filepath.Join(workRoot, base+".inflated")
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}

	log.Info("decompressing input", zap.String("src", path), zap.String("dst", outPath))
	if _, err := io.Copy(out, gz); err != nil { // #nosec G110 - local file inflation
		out.Close()
		os.Remove(outPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return outPath, nil
}
