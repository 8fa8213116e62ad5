// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package store

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/depictio/strata/pkg/table"
)

// segmentPayload is the on-disk columnar representation inside one segment.
type segmentPayload struct {
	Columns []segmentColumn `json:"columns"`
}

type segmentColumn struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Values []any  `json:"values"`
}

// encodeSegment serializes a table to zstd-compressed columnar JSON and
// returns the bytes plus their checksum.
func encodeSegment(t *table.Table) ([]byte, string, error) {
	payload := segmentPayload{Columns: make([]segmentColumn, 0, t.NumCols())}
	for _, c := range t.Columns() {
		payload.Columns = append(payload.Columns, segmentColumn{
			Name:   c.Name,
			Type:   c.Type.String(),
			Values: c.Values,
		})
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, "", fmt.Errorf("zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(&payload); err != nil {
		_ = enc.Close()
		return nil, "", fmt.Errorf("encode segment: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, "", fmt.Errorf("flush segment: %w", err)
	}

	data := buf.Bytes()
	sum := xxhash.Sum64(data)
	return data, hex.EncodeToString(u64be(sum)), nil
}

// decodeSegment restores a table from segment bytes, verifying the checksum
// recorded at commit time.
func decodeSegment(data []byte, wantChecksum string) (*table.Table, error) {
	if wantChecksum != "" {
		sum := hex.EncodeToString(u64be(xxhash.Sum64(data)))
		if sum != wantChecksum {
			return nil, fmt.Errorf("segment checksum mismatch: have %s, want %s", sum, wantChecksum)
		}
	}

	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompress segment: %w", err)
	}

	jd := json.NewDecoder(bytes.NewReader(raw))
	jd.UseNumber()
	var payload segmentPayload
	if err := jd.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode segment: %w", err)
	}

	cols := make([]*table.Column, 0, len(payload.Columns))
	for _, sc := range payload.Columns {
		typ, err := table.ParseType(sc.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", sc.Name, err)
		}
		values := make([]any, len(sc.Values))
		for i, v := range sc.Values {
			cv, err := coerce(v, typ)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", sc.Name, i, err)
			}
			values[i] = cv
		}
		cols = append(cols, &table.Column{Name: sc.Name, Type: typ, Values: values})
	}
	return table.New(cols...)
}

// coerce maps a decoded JSON value back to the column's in-memory type.
func coerce(v any, typ table.Type) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case table.Int:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		return n.Int64()
	case table.Float:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		return n.Float64()
	case table.Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	default:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	}
}

func u64be(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
