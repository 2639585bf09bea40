// Package comet provides a parallel importer for large unordered CSV
// files into time-partitioned columnar tables.
//
// The importer splits the input across a worker pool without parsing the
// whole file from the start: quoted fields with embedded newlines are
// resolved by scanning quote parity per chunk and folding the per-chunk
// statistics left to right. Rows are then indexed into per-partition
// (timestamp, offset) files, merged, replayed into per-worker shadow
// tables, reconciled (symbol dictionaries), and finally the prepared
// partition directories are grafted onto the target table.
//
// # Layout
//
//   - pkg/textimport — the multi-phase import pipeline and its driver
//   - pkg/table — the columnar storage engine the importer targets
//   - pkg/lockfree — the three-cursor task ring shared by the phases
//   - pkg/mmap — memory-mapped I/O for index merge and key rewriting
//   - cmd/comet — the command-line interface
//
// # Quick Start
//
// Import a CSV file into a table partitioned by day:
//
//	cfg := config.DefaultImportConfig()
//	cfg.WorkRoot = "/data/work"
//	cfg.TableRoot = "/data/tables"
//
//	importer := textimport.NewImporter(cfg, textimport.WithLogger(log))
//	_ = importer.Configure(textimport.Job{
//	    Table:           "trades",
//	    InputPath:       "/data/in/trades.csv",
//	    PartitionBy:     table.PartitionByDay,
//	    TimestampColumn: "ts",
//	})
//	stats, err := importer.Run(ctx)
package comet
