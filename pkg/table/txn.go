package table

import (
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"
)

// PartitionTxn records one committed partition.
type PartitionTxn struct {
	Key  int64 `json:"key"`
	Rows int64 `json:"rows"`
}

// Txn is the committed state of a table: its partitions, total row count
// and the number of values in each symbol dictionary, in symbol-column
// order.
type Txn struct {
	RowCount     int64          `json:"row_count"`
	Partitions   []PartitionTxn `json:"partitions"`
	SymbolCounts []int32        `json:"symbol_counts,omitempty"`
}

// ReadTxn loads the committed state of the table at dir.
func ReadTxn(dir string) (*Txn, error) {
	data, err := os.ReadFile(filepath.Join(dir, TxnFileName))
	if err != nil {
		return nil, err
	}
	var t Txn
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// WriteTxn persists committed state atomically.
func WriteTxn(dir string, t *Txn) error {
	sort.Slice(t.Partitions, func(i, j int) bool {
		return t.Partitions[i].Key < t.Partitions[j].Key
	})
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(filepath.Join(dir, TxnFileName), data)
}

// TxReader provides read-only access to a table's committed state.
type TxReader struct {
	txn *Txn
}

// NewTxReader loads committed state for the table at dir.
func NewTxReader(dir string) (*TxReader, error) {
	txn, err := ReadTxn(dir)
	if err != nil {
		return nil, err
	}
	return &TxReader{txn: txn}, nil
}

// PartitionCount returns the number of committed partitions.
func (r *TxReader) PartitionCount() int {
	return len(r.txn.Partitions)
}

// PartitionKey returns the key of the i-th partition.
func (r *TxReader) PartitionKey(i int) int64 {
	return r.txn.Partitions[i].Key
}

// PartitionRows returns the row count of the i-th partition.
func (r *TxReader) PartitionRows(i int) int64 {
	return r.txn.Partitions[i].Rows
}

// RowCount returns the committed row count.
func (r *TxReader) RowCount() int64 {
	return r.txn.RowCount
}

// SymbolValueCount returns the dictionary size of the i-th symbol column.
func (r *TxReader) SymbolValueCount(symbolColumnIndex int) int32 {
	if symbolColumnIndex < 0 || symbolColumnIndex >= len(r.txn.SymbolCounts) {
		return 0
	}
	return r.txn.SymbolCounts[symbolColumnIndex]
}
