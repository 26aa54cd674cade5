// Package tabular holds the canonical output shape of every extraction:
// an ordered sequence of rows whose cells are typed values, plus the
// provenance needed to trace a table back to the request that produced it.
package tabular

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindTime
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindTime:
		return "time"
	}
	return "unknown"
}

// Value is one typed cell. Exactly one of the payload fields is
// meaningful, selected by Kind.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Time time.Time
}

func String(s string) Value {
	return Value{Kind: KindString, Str: s}
}

func Number(n float64) Value {
	return Value{Kind: KindNumber, Num: n}
}

func Time(t time.Time) Value {
	return Value{Kind: KindTime, Time: t}
}

// Format renders the value the way it is written to exports.
func (v Value) Format() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindTime:
		return v.Time.Format(time.RFC3339)
	}
	return v.Str
}

// key returns a stable comparable form, used when joining rows.
func (v Value) key() string {
	switch v.Kind {
	case KindNumber:
		return "n:" + strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindTime:
		return "t:" + strconv.FormatInt(v.Time.UnixMilli(), 10)
	}
	return "s:" + v.Str
}

type Row map[string]Value

type Provenance struct {
	Source    string
	FetchedAt time.Time
	Checksum  string
}

type Table struct {
	// Columns is the canonical column order, rows may leave entries unset.
	Columns    []string
	Rows       []Row
	Provenance Provenance
}

func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

// AddColumn appends a column name if it is not already present.
func (t *Table) AddColumn(name string) {
	for _, c := range t.Columns {
		if c == name {
			return
		}
	}
	t.Columns = append(t.Columns, name)
}

// Checksum fingerprints a raw payload for provenance records.
func Checksum(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// OuterJoin merges tables row-wise on the named key column. Every key seen
// in any input produces exactly one output row; fields missing from a side
// stay unset rather than dropping the row. Row order follows first
// appearance of each key, column order follows first appearance of each
// column.
func OuterJoin(key string, tables ...*Table) (*Table, error) {
	out := &Table{}
	byKey := map[string]Row{}
	var order []string

	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, col := range t.Columns {
			out.AddColumn(col)
		}
		for _, row := range t.Rows {
			kv, ok := row[key]
			if !ok {
				return nil, fmt.Errorf("row is missing join key %q", key)
			}
			k := kv.key()
			merged, seen := byKey[k]
			if !seen {
				merged = Row{}
				byKey[k] = merged
				order = append(order, k)
			}
			for name, v := range row {
				merged[name] = v
			}
		}
	}

	for _, k := range order {
		out.Rows = append(out.Rows, byKey[k])
	}
	return out, nil
}
