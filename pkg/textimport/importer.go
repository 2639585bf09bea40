package textimport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cometdata/comet/pkg/config"
	"github.com/cometdata/comet/pkg/errors"
	"github.com/cometdata/comet/pkg/lockfree"
	"github.com/cometdata/comet/pkg/logger"
	"github.com/cometdata/comet/pkg/metrics"
	"github.com/cometdata/comet/pkg/table"
)

// activeImport is the process-wide advisory lock: at most one parallel
// import runs at a time, concurrent attempts fail fast.
var activeImport atomic.Bool

// Job carries the per-import parameters of a run.
type Job struct {
	Table           string
	InputPath       string
	PartitionBy     table.PartitionBy
	Delimiter       byte // 0 auto-detects
	TimestampColumn string
	TimestampFormat string // Go layout; empty tries the default set
	ForceHeader     bool
	Atomicity       Atomicity
}

// Stats is the outcome of an import run.
type Stats struct {
	Table             string          `json:"table"`
	InputFile         string          `json:"input_file"`
	Status            string          `json:"status"`
	Phase             string          `json:"phase"`
	RowsImported      int64           `json:"rows_imported"`
	RowsSkipped       int64           `json:"rows_skipped"`
	NullTimestampRows int64           `json:"null_timestamp_rows"`
	Header            bool            `json:"header"`
	Delimiter         string          `json:"delimiter"`
	MaxLineLength     int             `json:"max_line_length"`
	Partitions        []PartitionInfo `json:"partitions"`
	ElapsedMs         int64           `json:"elapsed_ms"`
}

// Importer drives a parallel CSV import. It owns the task ring and the
// worker pool, publishes phase tasks, collects their results at phase
// barriers and executes tasks itself whenever the ring is full or
// results are pending. Collaborators are explicit: logger, metrics and
// tracer are injected, no package state is consulted beyond the
// single-import lock.
//
// An Importer is single-use per Configure/Run pair and not safe for
// concurrent use.
type Importer struct {
	cfg     *config.ImportConfig
	log     *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	rename  RenameFunc

	ring        *lockfree.Ring[Task]
	workerCount int

	minChunkSize int64

	// job parameters
	tableName   string
	inputPath   string
	partitionBy table.PartitionBy
	delimiter   byte
	tsColName   string
	tsFormat    string
	forceHeader bool
	atomicity   Atomicity

	// run state
	ctx        context.Context
	inputFile  *os.File
	fileLength int64
	importRoot string

	header          bool
	names           []string
	adapters        []Adapter
	tsIndex         int
	tsAdapter       timestampParser
	importStructure *table.Structure
	targetStructure *table.Structure
	writer          *table.Writer
	targetExisted   bool
	targetCreated   bool

	chunkStats      []ChunkStats
	indexChunkStats []int64
	partitions      []PartitionInfo
	perWorker       [][]*PartitionInfo
	shadowCount     int
	maxLineLength   int
	deferredRowErr  error

	rowsImported int64
	rowsSkipped  int64
	nullTsRows   int64

	queued    int
	collected int
	firstErr  error
	failPhase Phase
	phase     Phase

	stop      chan struct{}
	workersWG sync.WaitGroup
	moved     bool
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger injects the logger.
func WithLogger(l *zap.Logger) Option {
	return func(im *Importer) { im.log = l }
}

// WithMetrics injects the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(im *Importer) { im.metrics = c }
}

// WithTracer injects the tracer used for per-phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(im *Importer) { im.tracer = t }
}

// WithRenameFunc overrides the directory rename used when moving
// partitions.
func WithRenameFunc(fn RenameFunc) Option {
	return func(im *Importer) { im.rename = fn }
}

// NewImporter creates an importer over the given configuration.
func NewImporter(cfg *config.ImportConfig, opts ...Option) *Importer {
	im := &Importer{
		cfg:          cfg,
		log:          zap.NewNop(),
		rename:       os.Rename,
		workerCount:  cfg.Workers,
		minChunkSize: cfg.MinChunkSize,
		ring:         lockfree.NewRing[Task](cfg.QueueCapacity),
	}
	for _, opt := range opts {
		opt(im)
	}
	if im.tracer == nil {
		im.tracer = otel.Tracer("github.com/cometdata/comet/pkg/textimport")
	}
	return im
}

// SetMinChunkSize overrides the minimum boundary-scan chunk size.
func (im *Importer) SetMinChunkSize(bytes int64) {
	im.minChunkSize = bytes
}

// Configure stages a job for Run.
func (im *Importer) Configure(job Job) error {
	if !table.ValidTableName(job.Table) {
		return errors.Newf(errors.ErrorTypeConfig, "invalid table name %q", job.Table)
	}
	if job.InputPath == "" {
		return errors.New(errors.ErrorTypeConfig, "input file must be set")
	}

	im.tableName = job.Table
	im.inputPath = job.InputPath
	im.partitionBy = job.PartitionBy
	im.delimiter = job.Delimiter
	im.tsColName = job.TimestampColumn
	im.tsFormat = job.TimestampFormat
	im.forceHeader = job.ForceHeader
	im.atomicity = job.Atomicity
	im.importRoot = filepath.Join(im.cfg.WorkRoot, im.tableName)

	im.phase = PhaseInit
	im.firstErr = nil
	im.deferredRowErr = nil
	im.moved = false
	im.targetCreated = false
	im.targetExisted = false
	im.chunkStats = im.chunkStats[:0]
	im.indexChunkStats = im.indexChunkStats[:0]
	im.partitions = nil
	im.perWorker = nil
	im.rowsImported = 0
	im.rowsSkipped = 0
	im.nullTsRows = 0
	im.maxLineLength = 0
	im.queued = 0
	im.collected = 0
	return nil
}

// Run executes the staged import. The context is the cancellation token:
// it is polled at every phase boundary and before every task dispatch.
func (im *Importer) Run(ctx context.Context) (*Stats, error) {
	if !activeImport.CompareAndSwap(false, true) {
		return nil, errors.New(errors.ErrorTypeBusy, "another parallel import is already running")
	}
	defer activeImport.Store(false)

	start := time.Now()
	im.ctx = ctx
	log := logger.ForImport(im.log, im.tableName, im.inputPath)

	err := im.runLocked(log)

	stats := im.buildStats(err, time.Since(start))
	if err != nil {
		log.Error("import failed", zap.String("phase", stats.Phase), zap.Error(err))
		return stats, err
	}
	log.Info("import finished",
		zap.Int64("rows", stats.RowsImported),
		zap.Int64("elapsed_ms", stats.ElapsedMs))
	return stats, nil
}

func (im *Importer) runLocked(log *zap.Logger) error {
	if err := im.checkProtectedRoots(); err != nil {
		return err
	}

	f, err := os.Open(im.inputPath)
	if err != nil {
		im.phase = PhaseBoundaryCheck
		return im.fail(errors.Wrapf(err, errors.ErrorTypeIO, "cannot open input file %s", im.inputPath))
	}
	im.inputFile = f
	defer func() {
		f.Close()
		im.inputFile = nil
	}()

	st, err := f.Stat()
	if err != nil {
		im.phase = PhaseBoundaryCheck
		return im.fail(errors.Wrap(err, errors.ErrorTypeIO, "cannot stat input file"))
	}
	im.fileLength = st.Size()
	if im.fileLength < 1 {
		im.phase = PhaseBoundaryCheck
		return im.fail(errors.Newf(errors.ErrorTypeData, "ignoring empty input file %s", im.inputPath))
	}

	defer func() {
		if im.writer != nil {
			im.writer.Close()
			im.writer = nil
		}
	}()
	if err := im.parseStructure(); err != nil {
		im.cleanupAfterFailure(log)
		return im.fail(err)
	}
	defer im.removeWorkDir(log)

	im.startWorkers()
	defer im.stopWorkers()

	runErr := im.runPhases(log)
	if runErr != nil {
		im.cleanupAfterFailure(log)
		return runErr
	}
	return nil
}

func (im *Importer) runPhases(log *zap.Logger) error {
	type phaseStep struct {
		phase Phase
		body  func() error
	}
	steps := []phaseStep{
		{PhaseBoundaryCheck, im.findChunkBoundaries},
		{PhaseIndexing, im.indexChunks},
		{PhasePartitionImport, im.importPartitions},
		{PhaseSymbolTableMerge, im.mergeSymbolTables},
		{PhaseUpdateSymbolKeys, im.updateSymbolKeys},
		{PhaseBuildIndex, im.buildColumnIndexes},
		{PhaseMovePartitions, im.movePartitions},
		{PhaseAttachPartitions, im.attachPartitions},
	}

	for _, step := range steps {
		im.phase = step.phase
		if err := im.checkCancelled(); err != nil {
			return err
		}

		phaseLog := logger.WithPhase(log, step.phase.String())
		stopTimer := im.metrics.PhaseTimer(step.phase.String())
		_, span := im.tracer.Start(im.ctx, step.phase.String())
		phaseLog.Info("phase started")
		started := time.Now()

		err := step.body()

		span.End()
		stopTimer()

		if err != nil {
			var ie *ImportError
			if !errors.As(err, &ie) {
				err = &ImportError{Phase: step.phase, Err: err}
			}
			return err
		}
		phaseLog.Info("phase finished", zap.Duration("elapsed", time.Since(started)))
	}

	im.phase = PhaseDone
	return nil
}

func (im *Importer) checkCancelled() error {
	if im.ctx != nil && im.ctx.Err() != nil {
		return im.fail(errors.Wrap(im.ctx.Err(), errors.ErrorTypeCancelled, "import cancelled"))
	}
	return nil
}

func (im *Importer) fail(err error) error {
	return &ImportError{Phase: im.phase, Err: err}
}

func (im *Importer) checkProtectedRoots() error {
	workDir, err := filepath.Abs(filepath.Clean(im.importRoot))
	if err != nil {
		return im.fail(errors.Wrap(err, errors.ErrorTypeConfig, "cannot resolve work directory"))
	}

	protected := append([]string{}, im.cfg.ProtectedRoots...)
	protected = append(protected, im.cfg.TableRoot)
	for _, root := range protected {
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			continue
		}
		if abs == workDir {
			im.phase = PhaseInit
			return im.fail(errors.Newf(errors.ErrorTypeConfig,
				"work directory %s aliases protected directory %s", workDir, root))
		}
	}
	return nil
}

// parseStructure samples the head of the file, resolves the delimiter,
// detects column names and types, and prepares the target table.
func (im *Importer) parseStructure() error {
	im.phase = PhaseInit

	buf := make([]byte, im.cfg.BufferSize)
	n, err := im.inputFile.ReadAt(buf, 0)
	if n <= 0 {
		return errors.Wrap(err, errors.ErrorTypeIO, "cannot read input file to analyze structure")
	}
	sample := buf[:n]

	if im.delimiter == 0 {
		im.delimiter = DetectDelimiter(sample)
		im.log.Debug("detected delimiter", zap.String("delimiter", string(im.delimiter)))
	}

	detector := NewDetector(im.cfg.AnalysisMaxLines, im.forceHeader)
	lexer := NewLexer(im.delimiter)
	lexer.SetSkipLinesWithExtraValues(false)
	if _, err := lexer.Parse(sample, 0, int64(im.cfg.AnalysisMaxLines), detector.Collect); err != nil {
		return err
	}
	if int64(n) == im.fileLength {
		if err := lexer.ParseLast(im.fileLength, detector.Collect); err != nil {
			return err
		}
	}

	result, err := detector.Evaluate()
	if err != nil {
		return err
	}
	im.header = result.Header
	im.names = result.Names
	im.adapters = result.Adapters

	return im.prepareTable()
}

// prepareTable reconciles the detected structure with the target table,
// creating it when absent, and resolves the designated timestamp.
func (im *Importer) prepareTable() error {
	if len(im.adapters) == 0 {
		return errors.New(errors.ErrorTypeData, "cannot determine text structure")
	}

	im.targetExisted = table.Exists(im.cfg.TableRoot, im.tableName)
	if im.targetExisted {
		if err := im.prepareExistingTable(); err != nil {
			return err
		}
	} else {
		if err := im.prepareNewTable(); err != nil {
			return err
		}
	}

	if im.tsIndex < 0 {
		return errors.New(errors.ErrorTypeConfig, "timestamp column not found")
	}
	return im.resolveTimestampAdapter()
}

func (im *Importer) prepareNewTable() error {
	if !im.partitionBy.IsPartitioned() {
		return errors.New(errors.ErrorTypeConfig, "partition by unit must be set when importing to new table")
	}
	if im.tsColName == "" {
		return errors.New(errors.ErrorTypeConfig, "timestamp column must be set when importing to new table")
	}

	im.tsIndex = indexOfFold(im.names, im.tsColName)
	if im.tsIndex < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "timestamp column %q not found in file header", im.tsColName)
	}

	if im.tsFormat != "" {
		im.adapters[im.tsIndex] = NewTimestampAdapterWithLayout(im.tsFormat)
	}
	switch im.adapters[im.tsIndex].ColumnType() {
	case table.ColumnTimestamp:
	case table.ColumnLong:
		im.adapters[im.tsIndex] = &longTimestampAdapter{}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "column %q is not a timestamp", im.tsColName)
	}

	cols := make([]table.Column, len(im.adapters))
	for i := range im.adapters {
		cols[i] = table.Column{Name: im.names[i], Type: im.adapters[i].ColumnType()}
	}

	structure := &table.Structure{
		Name:           im.tableName,
		Columns:        cols,
		TimestampIndex: im.tsIndex,
		PartitionBy:    im.partitionBy,
	}
	if err := table.Create(im.cfg.TableRoot, structure); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "cannot create target table")
	}
	im.targetCreated = true

	w, err := table.OpenWriter(im.cfg.TableRoot, im.tableName)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "cannot open target table writer")
	}
	im.writer = w
	im.targetStructure = w.Metadata()
	im.importStructure = structure
	return nil
}

func (im *Importer) prepareExistingTable() error {
	w, err := table.OpenWriter(im.cfg.TableRoot, im.tableName)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "cannot open target table writer")
	}
	im.writer = w
	target := w.Metadata()
	im.targetStructure = target

	if w.RowCount() > 0 {
		return errors.Newf(errors.ErrorTypeConfig, "target table must be empty [table=%s]", im.tableName)
	}
	if !target.PartitionBy.IsPartitioned() {
		return errors.New(errors.ErrorTypeConfig, "target table is not partitioned")
	}
	if im.partitionBy.IsPartitioned() && im.partitionBy != target.PartitionBy {
		return errors.New(errors.ErrorTypeConfig, "declared partition by unit doesn't match table's")
	}
	im.partitionBy = target.PartitionBy

	if len(im.adapters) > len(target.Columns) {
		return errors.Newf(errors.ErrorTypeSchema,
			"column count mismatch [textColumnCount=%d, tableColumnCount=%d, table=%s]",
			len(im.adapters), len(target.Columns), im.tableName)
	}

	// remap input columns onto table columns: by name when the file has a
	// header, positionally otherwise
	used := make([]bool, len(target.Columns))
	cols := make([]table.Column, 0, len(target.Columns))
	for i := range im.adapters {
		tableIdx := i
		if im.header {
			if byName := target.ColumnIndex(im.names[i]); byName >= 0 {
				tableIdx = byName
			}
		}
		used[tableIdx] = true

		colType := target.Columns[tableIdx].Type
		detected := im.adapters[i]
		if detected.ColumnType() != colType {
			switch colType {
			case table.ColumnDate:
				im.logTypeError(i, detected.ColumnType())
				im.adapters[i] = BadDateAdapter
			case table.ColumnTimestamp:
				if detected.ColumnType() == table.ColumnLong {
					im.adapters[i] = &longTimestampAdapter{}
				} else {
					im.logTypeError(i, detected.ColumnType())
					im.adapters[i] = BadTimestampAdapter
				}
			case table.ColumnBinary:
				return errors.Newf(errors.ErrorTypeSchema, "cannot import text into BINARY column [index=%d]", i)
			case table.ColumnLong:
				// a LONG target accepts a timestamp adapter's micros;
				// anything else falls back to the column's own format
				if detected.ColumnType() != table.ColumnTimestamp {
					im.adapters[i] = adapterForType(colType)
				}
			default:
				im.adapters[i] = adapterForType(colType)
			}
		}

		im.names[i] = target.Columns[tableIdx].Name
		cols = append(cols, table.Column{Name: im.names[i], Type: target.Columns[tableIdx].Type})
	}

	// table columns missing from the input are appended so shadow
	// partitions carry the full target schema; they are never written and
	// stay null
	for i := range target.Columns {
		if !used[i] {
			im.names = append(im.names, target.Columns[i].Name)
			im.adapters = append(im.adapters, adapterForType(target.Columns[i].Type))
			cols = append(cols, table.Column{Name: target.Columns[i].Name, Type: target.Columns[i].Type})
		}
	}

	// designated timestamp: explicit name wins, then the table's own
	tsName := im.tsColName
	if tsName == "" {
		tsName = target.Columns[target.TimestampIndex].Name
	}
	im.tsIndex = indexOfFold(im.names, tsName)
	if im.tsIndex < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "invalid timestamp column %q", tsName)
	}
	if im.tsFormat != "" {
		im.adapters[im.tsIndex] = NewTimestampAdapterWithLayout(im.tsFormat)
	}

	im.importStructure = &table.Structure{
		Name:           im.tableName,
		Columns:        cols,
		TimestampIndex: im.tsIndex,
		PartitionBy:    im.partitionBy,
	}
	return nil
}

func (im *Importer) resolveTimestampAdapter() error {
	switch a := im.adapters[im.tsIndex].(type) {
	case *TimestampAdapter:
		im.tsAdapter = a
	case *longTimestampAdapter:
		im.tsAdapter = a
	default:
		if a.ColumnType() == table.ColumnLong {
			im.tsAdapter = &longTimestampAdapter{}
			break
		}
		return errors.Newf(errors.ErrorTypeConfig,
			"column no=%d, name=%q is not a timestamp", im.tsIndex, im.names[im.tsIndex])
	}
	return nil
}

func (im *Importer) logTypeError(col int, detected table.ColumnType) {
	im.log.Info("mis-detected column type",
		zap.String("table", im.tableName),
		zap.Int("column", col),
		zap.String("type", detected.String()))
}

func indexOfFold(names []string, name string) int {
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}

// --- phase bodies ---

// findChunkBoundaries splits the file into chunks, scans them in
// parallel and folds the per-chunk stats left to right into true record
// boundaries. A chunk whose candidate boundary offsets are both missing
// is merged into its predecessor.
func (im *Importer) findChunkBoundaries() error {
	if im.workerCount == 1 {
		im.indexChunkStats = append(im.indexChunkStats[:0], 0, 0, im.fileLength, 0)
		return nil
	}

	chunkSize := (im.fileLength + int64(im.workerCount) - 1) / int64(im.workerCount)
	if chunkSize < im.minChunkSize {
		chunkSize = im.minChunkSize
	}
	chunks := int((im.fileLength + chunkSize - 1) / chunkSize)
	if chunks < 1 {
		chunks = 1
	}
	if chunks == 1 {
		im.indexChunkStats = append(im.indexChunkStats[:0], 0, 0, im.fileLength, 0)
		return nil
	}

	im.chunkStats = make([]ChunkStats, chunks)
	im.beginPhaseTasks()

	for i := 0; i < chunks; i++ {
		lo := int64(i) * chunkSize
		hi := lo + chunkSize
		if hi > im.fileLength {
			hi = im.fileLength
		}
		stage := boundaryStage{file: im.inputFile, lo: lo, hi: hi, bufLen: im.cfg.BufferSize}
		id := i
		if err := im.publish(func(t *Task) {
			t.ofBoundary(id, im.ctx, stage)
		}, im.collectChunkStats); err != nil {
			return err
		}
	}

	if err := im.barrier(im.collectChunkStats); err != nil {
		return err
	}

	im.processChunkStats(chunks)
	return nil
}

func (im *Importer) collectChunkStats(t *Task) {
	im.chunkStats[t.ID] = t.boundary.stats
}

func (im *Importer) processChunkStats(chunks int) {
	quotes := im.chunkStats[0].Quotes
	totalLines := im.chunkStats[0].NewLinesEven + 1

	im.indexChunkStats = append(im.indexChunkStats[:0], 0, 0)

	for i := 1; i < chunks; i++ {
		var startPos, lines int64
		if quotes&1 == 1 {
			startPos = im.chunkStats[i].FirstOddOffset
			lines = im.chunkStats[i].NewLinesOdd
		} else {
			startPos = im.chunkStats[i].FirstEvenOffset
			lines = im.chunkStats[i].NewLinesEven
		}

		// a chunk that is all quoted text or one very long line has no
		// boundary of the right parity and merges into its predecessor
		if startPos > -1 {
			im.indexChunkStats = append(im.indexChunkStats, startPos, totalLines)
		}

		quotes += im.chunkStats[i].Quotes
		totalLines += lines
	}

	if im.indexChunkStats[len(im.indexChunkStats)-2] < im.fileLength {
		im.indexChunkStats = append(im.indexChunkStats, im.fileLength, totalLines)
	}
}

// indexChunks creates the work directory and builds the per-partition
// index files chunk by chunk.
func (im *Importer) indexChunks() error {
	if len(im.indexChunkStats) < 4 {
		return errors.Newf(errors.ErrorTypeData, "no chunks found for indexing in file %s", im.inputPath)
	}

	if err := im.createWorkDir(); err != nil {
		return err
	}

	im.beginPhaseTasks()
	partitionBytes := make(map[int64]int64)

	collect := func(t *Task) {
		stage := &t.index
		for key, bytes := range stage.partitionBytes {
			partitionBytes[key] += bytes
		}
		if stage.maxLineLength > im.maxLineLength {
			im.maxLineLength = stage.maxLineLength
		}
		im.nullTsRows += stage.nullTsRows
		im.rowsSkipped += stage.skippedRows
		if stage.deferredErr != nil && im.deferredRowErr == nil {
			im.deferredRowErr = stage.deferredErr
		}
		im.metrics.RecordIndexedBytes(sumBytes(stage.partitionBytes))
	}

	header := im.header || im.forceHeader
	for i := 0; i+2 < len(im.indexChunkStats); i += 2 {
		chunkIdx := i / 2
		stage := indexStage{
			inputPath:    im.inputPath,
			importRoot:   im.importRoot,
			chunkLo:      im.indexChunkStats[i],
			chunkHi:      im.indexChunkStats[i+2],
			lineNumber:   im.indexChunkStats[i+1],
			chunkIndex:   chunkIdx,
			delim:        im.delimiter,
			columnCount:  len(im.importStructure.Columns),
			tsIndex:      im.tsIndex,
			tsAdapter:    im.tsAdapter,
			partitionBy:  im.partitionBy,
			ignoreHeader: header && chunkIdx == 0,
			bufLen:       im.cfg.BufferSize,
			flushLimit:   im.cfg.IndexFlushThreshold,
			atomicity:    im.atomicity,
		}
		id := chunkIdx
		if err := im.publish(func(t *Task) {
			t.ofIndex(id, im.ctx, stage)
		}, collect); err != nil {
			return err
		}
	}

	if err := im.barrier(collect); err != nil {
		return err
	}

	im.processIndexStats(partitionBytes)
	return nil
}

func sumBytes(m map[int64]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}

// processIndexStats turns the per-partition byte totals into the ordered
// partition list and assigns partitions to shadow workers with a greedy
// longest-processing-time-first heuristic.
func (im *Importer) processIndexStats(partitionBytes map[int64]int64) {
	im.partitions = im.partitions[:0]
	for key, bytes := range partitionBytes {
		im.partitions = append(im.partitions, PartitionInfo{
			Key:     key,
			DirName: im.partitionBy.DirName(key),
			Bytes:   bytes,
		})
	}

	// biggest first; ties keep key order for determinism
	sort.Slice(im.partitions, func(i, j int) bool {
		if im.partitions[i].Bytes != im.partitions[j].Bytes {
			return im.partitions[i].Bytes > im.partitions[j].Bytes
		}
		return im.partitions[i].Key < im.partitions[j].Key
	})

	loads := make([]int64, im.workerCount)
	assignment := make([]int, len(im.partitions))
	for i := range im.partitions {
		least := 0
		for w := 1; w < len(loads); w++ {
			if loads[w] < loads[least] {
				least = w
			}
		}
		assignment[i] = least
		loads[least] += im.partitions[i].Bytes
	}

	// compact worker ids to the workers that actually received load
	newID := make([]int, im.workerCount)
	next := 0
	for w := 0; w < im.workerCount; w++ {
		if loads[w] > 0 {
			newID[w] = next
			next++
		} else {
			newID[w] = -1
		}
	}
	im.shadowCount = next

	for i := range im.partitions {
		im.partitions[i].Worker = newID[assignment[i]]
		im.partitions[i].TaskID = newID[assignment[i]]
	}

	sort.Slice(im.partitions, func(i, j int) bool {
		if im.partitions[i].Worker != im.partitions[j].Worker {
			return im.partitions[i].Worker < im.partitions[j].Worker
		}
		return im.partitions[i].Key < im.partitions[j].Key
	})

	im.perWorker = make([][]*PartitionInfo, im.shadowCount)
	for i := range im.partitions {
		w := im.partitions[i].Worker
		im.perWorker[w] = append(im.perWorker[w], &im.partitions[i])
	}
}

// importPartitions loads every shadow table from its merged partition
// indexes. A row-level failure deferred from indexing under SkipAll
// surfaces here, before any shadow is written.
func (im *Importer) importPartitions() error {
	if im.deferredRowErr != nil {
		return im.fail(im.deferredRowErr)
	}
	if len(im.partitions) == 0 {
		return errors.New(errors.ErrorTypeData, "no partitions to merge and load found")
	}

	im.beginPhaseTasks()

	collect := func(t *Task) {
		im.rowsImported += t.load.rowsImported
		im.rowsSkipped += t.load.rowsSkipped
	}

	for w := 0; w < im.shadowCount; w++ {
		stage := loadStage{
			inputPath:     im.inputPath,
			importRoot:    im.importRoot,
			structure:     im.importStructure,
			adapters:      im.adapters,
			tsIndex:       im.tsIndex,
			delim:         im.delimiter,
			atomicity:     im.atomicity,
			shadowIndex:   w,
			partitions:    im.perWorker[w],
			maxLineLength: im.maxLineLength,
		}
		id := w
		if err := im.publish(func(t *Task) {
			t.ofLoad(id, im.ctx, stage)
		}, collect); err != nil {
			return err
		}
	}

	return im.barrier(collect)
}

// mergeSymbolTables reconciles shadow symbol dictionaries into the
// target, one task per target symbol column. Tasks share the target
// writer but each touches only its own column's dictionary.
func (im *Importer) mergeSymbolTables() error {
	im.beginPhaseTasks()

	for i := range im.targetStructure.Columns {
		col := &im.targetStructure.Columns[i]
		if col.Type != table.ColumnSymbol {
			continue
		}

		stage := symbolMergeStage{
			importRoot:   im.importRoot,
			tableName:    im.tableName,
			targetWriter: im.writer,
			columnName:   col.Name,
			columnIndex:  i,
			shadowCount:  im.shadowCount,
		}
		id := i
		if err := im.publish(func(t *Task) {
			t.ofSymbolMerge(id, im.ctx, stage)
		}, im.collectStub); err != nil {
			return err
		}
	}

	return im.barrier(im.collectStub)
}

// updateSymbolKeys rewrites shadow symbol keys through the remap files,
// one task per (shadow, partition, column) tuple.
func (im *Importer) updateSymbolKeys() error {
	symbolCols := im.importStructure.SymbolColumns()
	if len(symbolCols) == 0 {
		return nil
	}

	im.beginPhaseTasks()

	for t := 0; t < im.shadowCount; t++ {
		shadowDir := filepath.Join(im.importRoot, fmt.Sprintf("%s_%d", im.tableName, t))
		tx, err := table.NewTxReader(shadowDir)
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeIO, "cannot read shadow table state %s", shadowDir)
		}

		for p := 0; p < tx.PartitionCount(); p++ {
			if tx.PartitionRows(p) == 0 {
				continue
			}
			key := tx.PartitionKey(p)
			rows := tx.PartitionRows(p)

			for _, col := range symbolCols {
				stage := symbolUpdateStage{
					importRoot:    im.importRoot,
					tableName:     im.tableName,
					shadowIndex:   t,
					partitionDir:  im.partitionBy.DirName(key),
					partitionRows: rows,
					columnName:    col,
				}
				id := t
				if err := im.publish(func(task *Task) {
					task.ofSymbolUpdate(id, im.ctx, stage)
				}, im.collectStub); err != nil {
					return err
				}
			}
		}
	}

	return im.barrier(im.collectStub)
}

// buildColumnIndexes builds secondary indexes for the columns the target
// marks as indexed, one task per shadow table.
func (im *Importer) buildColumnIndexes() error {
	var indexed []string
	for i := range im.targetStructure.Columns {
		if im.targetStructure.Columns[i].Indexed {
			indexed = append(indexed, im.targetStructure.Columns[i].Name)
		}
	}
	if len(indexed) == 0 {
		return nil
	}

	im.beginPhaseTasks()

	for t := 0; t < im.shadowCount; t++ {
		stage := columnIndexStage{
			importRoot:     im.importRoot,
			tableName:      im.tableName,
			shadowIndex:    t,
			indexedColumns: indexed,
		}
		id := t
		if err := im.publish(func(task *Task) {
			task.ofColumnIndex(id, im.ctx, stage)
		}, im.collectStub); err != nil {
			return err
		}
	}

	return im.barrier(im.collectStub)
}

// movePartitions renames shadow partition directories under the target
// table, copying file by file across filesystems.
func (im *Importer) movePartitions() error {
	m := &mover{rename: im.rename, log: im.log}
	targetDir := table.Dir(im.cfg.TableRoot, im.tableName)

	for i := range im.partitions {
		p := &im.partitions[i]
		if p.ImportedRows == 0 {
			continue
		}

		src := filepath.Join(im.importRoot, fmt.Sprintf("%s_%d", im.tableName, p.Worker), p.DirName)
		dst := filepath.Join(targetDir, p.DirName)

		im.moved = true
		if err := m.movePartition(src, dst); err != nil {
			return im.fail(err)
		}
	}
	return nil
}

// attachPartitions registers every moved partition with the target
// writer, parsing keys back out of the directory names they were
// produced with.
func (im *Importer) attachPartitions() error {
	attached := 0
	for i := range im.partitions {
		p := &im.partitions[i]
		if p.ImportedRows == 0 {
			continue
		}

		key, err := im.partitionBy.ParseDirName(p.DirName)
		if err != nil {
			return im.fail(errors.Wrap(err, errors.ErrorTypeCorruption, "cannot parse partition directory name"))
		}
		if err := im.writer.AttachPartition(key); err != nil {
			return im.fail(errors.Wrapf(err, errors.ErrorTypeIO, "cannot attach partition %s", p.DirName))
		}
		attached++
	}

	if attached == 0 {
		return im.fail(errors.New(errors.ErrorTypeData, "no partitions to attach found"))
	}
	return nil
}

// --- queue plumbing ---

func (im *Importer) beginPhaseTasks() {
	im.queued = 0
	im.collected = 0
}

// publish claims a ring slot and fills it. When the ring is full the
// driver first drains ready results, then steals a task and runs it
// inline.
func (im *Importer) publish(fill func(*Task), collector func(*Task)) error {
	for {
		if im.ctx != nil && im.ctx.Err() != nil {
			// stop publishing; outstanding tasks settle at the barrier
			return im.barrierThenCancel(collector)
		}

		seq := im.ring.PubNext()
		if seq >= 0 {
			fill(im.ring.At(seq))
			im.ring.PubDone(seq)
			im.queued++
			return nil
		}

		if !im.collectReady(collector) {
			if !im.stealWork() {
				runtime.Gosched()
			}
		}
	}
}

// barrier drains results until every queued task of the phase has been
// collected, then reports the first recorded failure in publish order.
func (im *Importer) barrier(collector func(*Task)) error {
	for im.collected < im.queued {
		if !im.collectReady(collector) {
			if !im.stealWork() {
				runtime.Gosched()
			}
		}
	}

	if im.firstErr != nil {
		err := im.firstErr
		im.firstErr = nil
		if errors.IsType(err, errors.ErrorTypeCancelled) {
			return &ImportError{Phase: im.phase, Err: err}
		}
		return &ImportError{Phase: im.failPhase, Err: err}
	}
	return im.checkCancelled()
}

func (im *Importer) barrierThenCancel(collector func(*Task)) error {
	if err := im.barrier(collector); err != nil {
		return err
	}
	return im.checkCancelled()
}

// collectReady consumes at most one finished task result.
func (im *Importer) collectReady(collector func(*Task)) bool {
	seq := im.ring.CollectNext()
	if seq < 0 {
		return false
	}
	t := im.ring.At(seq)
	if t.Err != nil {
		if im.firstErr == nil {
			im.firstErr = t.Err
			im.failPhase = t.Phase
		}
	} else if collector != nil {
		collector(t)
	}
	im.ring.CollectDone(seq)
	im.collected++
	return true
}

// stealWork lets the driver execute a pending task in line.
func (im *Importer) stealWork() bool {
	seq := im.ring.SubNext()
	if seq < 0 {
		return false
	}
	t := im.ring.At(seq)
	t.WorkerID = im.workerCount // the driver acts as one extra worker
	t.Run()
	im.ring.SubDone(seq)
	return true
}

func (im *Importer) collectStub(*Task) {}

func (im *Importer) startWorkers() {
	im.stop = make(chan struct{})
	for i := 0; i < im.workerCount; i++ {
		im.workersWG.Add(1)
		go func(id int) {
			defer im.workersWG.Done()
			for {
				seq := im.ring.SubNext()
				if seq >= 0 {
					t := im.ring.At(seq)
					t.WorkerID = id
					t.Run()
					im.ring.SubDone(seq)
					continue
				}
				select {
				case <-im.stop:
					return
				default:
					runtime.Gosched()
				}
			}
		}(i)
	}
}

func (im *Importer) stopWorkers() {
	if im.stop != nil {
		close(im.stop)
		im.workersWG.Wait()
		im.stop = nil
	}
}

// --- cleanup ---

func (im *Importer) createWorkDir() error {
	if err := os.RemoveAll(im.importRoot); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "cannot clear import work dir %s", im.importRoot)
	}
	if err := os.MkdirAll(im.importRoot, 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "cannot create import work dir %s", im.importRoot)
	}
	im.log.Info("created import work dir", zap.String("path", im.importRoot))
	return nil
}

func (im *Importer) removeWorkDir(log *zap.Logger) {
	if _, err := os.Stat(im.importRoot); err != nil {
		return
	}
	log.Info("removing import work dir", zap.String("path", im.importRoot))
	if err := os.RemoveAll(im.importRoot); err != nil {
		log.Error("cannot remove import work dir", zap.String("path", im.importRoot), zap.Error(err))
	}
}

// cleanupAfterFailure restores the target to its prior state: a
// pre-existing table is truncated once partitions started moving, a
// created table is removed.
func (im *Importer) cleanupAfterFailure(log *zap.Logger) {
	if im.moved && im.targetExisted && im.writer != nil {
		if err := im.writer.Truncate(); err != nil {
			log.Error("cannot truncate target table after failed import", zap.Error(err))
		}
	}
	if im.targetCreated {
		if im.writer != nil {
			im.writer.Close()
			im.writer = nil
		}
		if err := table.Remove(im.cfg.TableRoot, im.tableName); err != nil {
			log.Error("cannot remove created target table after failed import", zap.Error(err))
		}
	}
}

func (im *Importer) buildStats(runErr error, elapsed time.Duration) *Stats {
	status := StatusOK
	if runErr != nil {
		status = StatusFailed
		if errors.IsType(runErr, errors.ErrorTypeCancelled) {
			status = StatusCancelled
		}
	}

	phase := im.phase
	var ie *ImportError
	if errors.As(runErr, &ie) {
		phase = ie.Phase
	}

	im.metrics.RecordRows(im.tableName, "imported", im.rowsImported)
	im.metrics.RecordRows(im.tableName, "skipped", im.rowsSkipped)
	im.metrics.RecordRows(im.tableName, "null_timestamp", im.nullTsRows)

	return &Stats{
		Table:             im.tableName,
		InputFile:         im.inputPath,
		Status:            status.String(),
		Phase:             phase.String(),
		RowsImported:      im.rowsImported,
		RowsSkipped:       im.rowsSkipped,
		NullTimestampRows: im.nullTsRows,
		Header:            im.header,
		Delimiter:         string(im.delimiter),
		MaxLineLength:     im.maxLineLength,
		Partitions:        append([]PartitionInfo(nil), im.partitions...),
		ElapsedMs:         elapsed.Milliseconds(),
	}
}
