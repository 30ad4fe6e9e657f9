// Package mbo decodes Market-By-Order CSV rows into book events.
//
// Rows are plain comma-separated lines: quotes carry no meaning and fields
// past the order id are never looked at. Decoding never fails on field
// content: unparseable numbers become zero and unknown tags become the
// neutral variants. Only reading the input can error.
package mbo

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/mbp10/pkg/book"
)

// Column positions in an MBO row. Columns past OrderID are ignored.
const (
	colTsRecv = iota
	colTsEvent
	colRType
	colPublisherID
	colInstrumentID
	colAction
	colSide
	colPrice
	colSize
	colChannelID
	colOrderID
)

const maxLineSize = 1 << 20

// Reader yields one decoded event per non-empty line.
type Reader struct {
	sc     *bufio.Scanner
	fields []string
	rows   int
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{sc: sc, fields: make([]string, 0, colOrderID+2)}
}

// Rows returns how many rows have been consumed, skipped ones included.
func (r *Reader) Rows() int { return r.rows }

// Skip consumes one row without decoding it.
func (r *Reader) Skip() error {
	_, err := r.read()
	return err
}

// Next decodes the next row. It returns io.EOF when the input is exhausted.
func (r *Reader) Next() (book.Event, error) {
	fields, err := r.read()
	if err != nil {
		return book.Event{}, err
	}
	return Decode(fields), nil
}

func (r *Reader) read() ([]string, error) {
	for r.sc.Scan() {
		line := strings.TrimSuffix(r.sc.Text(), "\r")
		if line == "" {
			continue
		}
		r.rows++
		return Split(r.fields[:0], line), nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("read mbo row %d: %w", r.rows+1, err)
	}
	return nil, io.EOF
}

// Split appends the fields of line up to the order id column to dst.
// The remainder of the line is dropped unsplit.
func Split(dst []string, line string) []string {
	for i := 0; i < colOrderID; i++ {
		j := strings.IndexByte(line, ',')
		if j < 0 {
			return append(dst, line)
		}
		dst = append(dst, line[:j])
		line = line[j+1:]
	}
	if j := strings.IndexByte(line, ','); j >= 0 {
		line = line[:j]
	}
	return append(dst, line)
}

// Decode maps one row's fields to an event. Missing trailing fields decode as zero.
func Decode(fields []string) book.Event {
	field := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	return book.Event{
		// snapshots outlive the line, so do not pin it
		TsEvent: strings.Clone(field(colTsEvent)),
		Action:  ParseAction(field(colAction)),
		Side:    ParseSide(field(colSide)),
		Price:   ParsePrice(field(colPrice)),
		Size:    parseInt(field(colSize)),
		OrderID: parseUint(field(colOrderID)),
	}
}

func ParseAction(s string) book.Action {
	if s == "" {
		return book.ActionOther
	}
	switch s[0] {
	case 'A':
		return book.ActionAdd
	case 'C':
		return book.ActionCancel
	case 'T':
		return book.ActionTrade
	case 'F':
		return book.ActionFill
	case 'R':
		return book.ActionClear
	default:
		return book.ActionOther
	}
}

// ParseSide reads the side tag. 'A' means the ask (sell) side here, not add.
func ParseSide(s string) book.Side {
	if s == "" {
		return book.SideNone
	}
	switch s[0] {
	case 'B':
		return book.SideBuy
	case 'A':
		return book.SideSell
	default:
		return book.SideNone
	}
}

// Exponent bounds accepted by ParsePrice. Anything outside cannot be a
// price in int64 ticks and would make the scaling allocate huge integers.
const (
	minPriceExp = -64
	maxPriceExp = 18
)

var maxTicks = decimal.NewFromInt(math.MaxInt64)

// ParsePrice scales a decimal price by book.PriceScale, truncating extra digits.
// Values that do not fit in int64 ticks decode as 0.
func ParsePrice(s string) int64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	if exp := d.Exponent(); exp < minPriceExp || exp > maxPriceExp {
		return 0
	}
	ticks := d.Shift(book.PriceScaleExp)
	if ticks.Abs().GreaterThan(maxTicks) {
		return 0
	}
	return ticks.IntPart()
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseUint(s string) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
