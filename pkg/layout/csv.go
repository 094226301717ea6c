package layout

import (
	"bytes"
	"strings"
)

// The CSV dialect matches the OpenCSVSerde properties declared in the
// catalog table: comma separator, double-quote quoting, backslash
// escape. Quotes are escaped with a backslash, not doubled, and
// backslashes in data are escaped so they survive the serde's
// unescaping on read.

// writeRecord appends one CSV record to the buffer
func writeRecord(buf *bytes.Buffer, record []string) {
	for i, cell := range record {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(encodeCell(cell))
	}
	buf.WriteByte('\n')
}

// encodeCell escapes and, when needed, quotes one cell
func encodeCell(cell string) string {
	escaped := strings.ReplaceAll(cell, `\`, `\\`)

	if strings.ContainsAny(escaped, ",\"\n\r") {
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		return `"` + escaped + `"`
	}
	return escaped
}
