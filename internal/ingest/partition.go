package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/yungbote/citegraph/internal/domain/paper"
	"github.com/yungbote/citegraph/internal/platform/logger"
)

const (
	DefaultBatchSize    = 100
	DefaultMaxLineBytes = 16 << 20
	excerptLen          = 100
)

// Batch is a contiguous run of valid records in input order.
type Batch struct {
	Seq       int64
	FirstLine int
	Records   []paper.Record
}

type PartitionStats struct {
	Lines       int64
	Records     int64
	ParseErrors int64
	Rejected    int64
	Batches     int64
	Degraded    int64
}

// Partitioner splits a records file into batches. The input is a JSON array
// written one object per line: an optional "[" alone on the first line or
// prefixed to the first record, one record per line with an optional
// trailing comma, and a closing "]". Blank lines are ignored.
type Partitioner struct {
	BatchSize    int
	MaxLineBytes int
	log          *logger.Logger
}

func NewPartitioner(batchSize, maxLineBytes int, log *logger.Logger) *Partitioner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Partitioner{
		BatchSize:    batchSize,
		MaxLineBytes: maxLineBytes,
		log:          log.With("component", "BatchPartitioner"),
	}
}

// Partition streams batches to emit. Lines that fail to decode or validate,
// or that exceed MaxLineBytes, are logged, counted and skipped. A non-nil
// error from emit stops partitioning and is returned with the stats gathered
// so far. A reader error flushes the partial batch first.
func (p *Partitioner) Partition(ctx context.Context, r io.Reader, emit func(Batch) error) (PartitionStats, error) {
	var stats PartitionStats
	lr := newLineReader(r, p.MaxLineBytes)

	cur := Batch{Seq: 1}
	flush := func() error {
		if len(cur.Records) == 0 {
			return nil
		}
		stats.Batches++
		if err := emit(cur); err != nil {
			return err
		}
		cur = Batch{Seq: cur.Seq + 1}
		return nil
	}

	lineNo := 0
	for {
		raw, tooLong, err := lr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ferr := flush(); ferr != nil {
				return stats, ferr
			}
			return stats, fmt.Errorf("ingest: read records after line %d: %w", lineNo, err)
		}
		lineNo++
		stats.Lines++
		if ctx != nil && lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}
		if tooLong {
			stats.ParseErrors++
			p.log.Warn("Skipping oversized record line", "line", lineNo, "max_bytes", p.MaxLineBytes, "excerpt", excerpt(raw))
			continue
		}

		line := recordBytes(raw, lineNo == 1)
		if line == nil {
			continue
		}

		var rec paper.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			stats.ParseErrors++
			p.log.Warn("Error parsing record line", "line", lineNo, "error", err, "excerpt", excerpt(line))
			continue
		}
		if err := rec.Validate(); err != nil {
			stats.Rejected++
			p.log.Warn("Rejected record", "line", lineNo, "paper_id", rec.ID, "error", err)
			continue
		}
		if len(rec.Degraded) > 0 {
			stats.Degraded++
			p.log.Debug("Record has malformed optional fields", "line", lineNo, "paper_id", rec.ID, "fields", rec.Degraded)
		}

		if len(cur.Records) == 0 {
			cur.FirstLine = lineNo
			cur.Records = make([]paper.Record, 0, p.BatchSize)
		}
		cur.Records = append(cur.Records, rec)
		stats.Records++
		if len(cur.Records) >= p.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

var utf8BOM = []byte("\xEF\xBB\xBF")

// recordBytes strips the array framing from one input line. It returns nil
// for lines that carry no record.
func recordBytes(raw []byte, first bool) []byte {
	if first {
		raw = bytes.TrimPrefix(raw, utf8BOM)
	}
	line := bytes.TrimSpace(raw)
	if first {
		line = bytes.TrimSpace(bytes.TrimPrefix(line, []byte("[")))
	}
	if len(line) == 0 || (len(line) == 1 && line[0] == ']') {
		return nil
	}
	line = bytes.TrimSuffix(line, []byte(","))
	if len(line) == 0 {
		return nil
	}
	return line
}

func excerpt(line []byte) string {
	if len(line) <= excerptLen {
		return string(line)
	}
	return string(line[:excerptLen]) + "..."
}

// lineReader yields lines of at most max bytes. The remainder of a longer
// line is read and discarded so the next call starts on the following line.
type lineReader struct {
	r   *bufio.Reader
	max int
	buf []byte
}

func newLineReader(r io.Reader, maxLineBytes int) *lineReader {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	size := 64 * 1024
	if size > maxLineBytes {
		size = maxLineBytes
	}
	if size < 16 {
		size = 16
	}
	return &lineReader{r: bufio.NewReaderSize(r, size), max: maxLineBytes}
}

// next returns the next line without its newline. When tooLong is true the
// returned bytes are only the first max bytes of the line. The slice is
// reused by the following call. io.EOF is returned once no bytes remain.
func (lr *lineReader) next() (line []byte, tooLong bool, err error) {
	lr.buf = lr.buf[:0]
	read := false
	for {
		chunk, err := lr.r.ReadSlice('\n')
		if len(chunk) > 0 {
			read = true
		}
		data := chunk
		if err == nil {
			data = data[:len(data)-1]
		}
		if !tooLong {
			if room := lr.max - len(lr.buf); len(data) > room {
				tooLong = true
				data = data[:room]
			}
			lr.buf = append(lr.buf, data...)
		}
		switch {
		case err == nil:
			return lr.buf, tooLong, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if read {
				return lr.buf, tooLong, nil
			}
			return nil, false, io.EOF
		default:
			return nil, false, err
		}
	}
}

// EstimateRecords counts lines that look like records. It is advisory and
// only feeds progress reporting.
func EstimateRecords(r io.Reader, maxLineBytes int) (int64, error) {
	lr := newLineReader(r, maxLineBytes)
	var n int64
	first := true
	for {
		raw, _, err := lr.next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if first {
			raw = bytes.TrimPrefix(raw, utf8BOM)
		}
		line := bytes.TrimSpace(raw)
		if first {
			line = bytes.TrimSpace(bytes.TrimPrefix(line, []byte("[")))
			first = false
		}
		if len(line) > 0 && line[0] == '{' {
			n++
		}
	}
}
