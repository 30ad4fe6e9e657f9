package mbp

import (
	"bufio"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/sha3"
)

// Sink receives every emitted snapshot, in order.
type Sink interface {
	Write(Snapshot) error
	Close() error
}

// MultiSink writes each snapshot to all of its sinks and stops at the first error.
type MultiSink []Sink

func (m MultiSink) Write(s Snapshot) error {
	for _, sk := range m {
		if err := sk.Write(s); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var errs []error
	for _, sk := range m {
		if err := sk.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const csvBufferSize = 1 << 20

// CSVWriter writes the header once and then one row per snapshot.
type CSVWriter struct {
	buf    *bufio.Writer
	w      *csv.Writer
	closer io.Closer
}

// NewCSVWriter writes the header to w right away.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	cw := &CSVWriter{buf: buf, w: csv.NewWriter(buf)}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	if err := cw.w.Write(Header()); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return cw, nil
}

// CreateCSV truncates or creates path and writes the header.
func CreateCSV(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output %s: %w", path, err)
	}
	cw, err := NewCSVWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return cw, nil
}

func (c *CSVWriter) Write(s Snapshot) error {
	if err := c.w.Write(s.Record()); err != nil {
		return fmt.Errorf("write snapshot %d: %w", s.Seq, err)
	}
	return nil
}

// Flush pushes buffered rows to the underlying writer.
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return err
	}
	return c.buf.Flush()
}

func (c *CSVWriter) Close() error {
	err := c.Flush()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// DigestSink hashes the rendered rows (header excluded) with SHA3-256, so two
// replays of the same input can be compared without diffing the files.
type DigestSink struct {
	h hash.Hash
	w *csv.Writer
}

func NewDigestSink() *DigestSink {
	h := sha3.New256()
	return &DigestSink{h: h, w: csv.NewWriter(h)}
}

func (d *DigestSink) Write(s Snapshot) error {
	return d.w.Write(s.Record())
}

// Sum returns the hex digest of everything written so far.
func (d *DigestSink) Sum() string {
	d.w.Flush()
	return hex.EncodeToString(d.h.Sum(nil))
}

func (d *DigestSink) Close() error {
	d.w.Flush()
	return d.w.Error()
}
