// Package layout turns extracted row sets into Hive-partitioned CSV
// objects. Storage keys carry the partition values; partition-field
// columns are stripped from file content.
package layout

import (
	"bytes"
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/logger"
	"github.com/lakelift/lakelift/pkg/schema"
	"github.com/lakelift/lakelift/pkg/source"
	"github.com/lakelift/lakelift/pkg/storage"
)

// Writer serializes partitions and uploads them to the object store.
// Writes are replace-whole-partition: the same inputs reproduce the
// same bytes at the same key, which makes reruns after partial failures
// safe.
type Writer struct {
	store      storage.ObjectStore
	basePrefix string
	log        *zap.Logger
}

// Result describes one written partition
type Result struct {
	// Key is the storage key the partition was written to
	Key string
	// Rows is the number of serialized rows
	Rows int
	// MalformedFields counts cells degraded to the null marker because
	// their value could not be coerced to the declared type
	MalformedFields int
	// Bytes is the serialized size
	Bytes int
}

// NewWriter creates a layout writer targeting a store under a base prefix
func NewWriter(store storage.ObjectStore, basePrefix string) *Writer {
	return &Writer{
		store:      store,
		basePrefix: basePrefix,
		log:        logger.With(zap.String("component", "layout_writer")),
	}
}

// Write serializes one partition's rows and uploads the object,
// replacing whatever is at the computed key. Partition-field columns
// are omitted from content; every row in the file shares the key's
// partition values by construction. A malformed field value degrades to
// the null marker and is counted, never failing the partition.
func (w *Writer) Write(ctx context.Context, table *schema.Table, key schema.PartitionKey, rows []source.Row) (*Result, error) {
	fields := table.ContentFields()

	var buf bytes.Buffer
	malformed := 0

	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Name
	}
	writeRecord(&buf, header)

	record := make([]string, len(fields))
	for _, row := range rows {
		for i, f := range fields {
			value, bad := schema.FormatValue(f.SemanticType(), row[f.Name])
			if bad {
				malformed++
			}
			record[i] = value
		}
		writeRecord(&buf, record)
	}

	storageKey := StorageKey(w.basePrefix, table.Name, key)
	size := buf.Len()

	if err := w.store.Put(ctx, storageKey, &buf); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to write partition")
	}

	w.log.Debug("partition written",
		zap.String("key", storageKey),
		zap.Int("rows", len(rows)),
		zap.Int("malformed_fields", malformed))

	return &Result{
		Key:             storageKey,
		Rows:            len(rows),
		MalformedFields: malformed,
		Bytes:           size,
	}, nil
}

// StorageKey computes the object key for one partition:
// [prefix/]<table>/<base partition pairs>/<field partition pairs>/<table>.csv
// with pairs rendered key=value in fixed declaration order.
func StorageKey(basePrefix, tableName string, key schema.PartitionKey) string {
	segments := make([]string, 0, len(key.Base)+len(key.Fields)+3)
	if basePrefix != "" {
		segments = append(segments, basePrefix)
	}
	segments = append(segments, tableName)
	segments = append(segments, key.PathSegments()...)
	segments = append(segments, tableName+".csv")
	return strings.Join(segments, "/")
}

// TablePrefix computes the storage prefix of a whole table, excluding
// partition subdirectories. Used as the catalog table location.
func TablePrefix(basePrefix, tableName string) string {
	if basePrefix != "" {
		return basePrefix + "/" + tableName + "/"
	}
	return tableName + "/"
}

// PartitionPrefix computes the storage prefix of one partition
func PartitionPrefix(basePrefix, tableName string, key schema.PartitionKey) string {
	prefix := TablePrefix(basePrefix, tableName)
	if path := key.Path(); path != "" {
		prefix += path + "/"
	}
	return prefix
}
