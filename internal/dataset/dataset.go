// Package dataset loads the tabular traffic and attack records the game
// samples messages from.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/signalsfoundry/intrusion-game/internal/config"
	"github.com/signalsfoundry/intrusion-game/model"
)

var (
	ErrMalformedRow    = errors.New("malformed dataset row")
	ErrEmpty           = errors.New("dataset has no rows")
	ErrNoMaliciousRows = errors.New("dataset has no malicious rows")
)

// Dataset is an immutable, in-memory set of records. Origin and destination
// of each row hold whatever placeholder the file carried; the game rewrites
// them before a message enters the network.
type Dataset struct {
	rows      []model.Message
	malicious []int
}

// New builds a dataset from already-parsed messages.
func New(rows []model.Message) *Dataset {
	d := &Dataset{rows: append([]model.Message(nil), rows...)}
	for i, m := range d.rows {
		if m.IsMalicious() {
			d.malicious = append(d.malicious, i)
		}
	}
	return d
}

// Load reads CSV records from r using the column offsets in cfg.Schema.
// Rows may carry more columns than the schema uses.
func Load(r io.Reader, cfg config.Dataset) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	need := cfg.Schema.MaxColumn() + 1
	var rows []model.Message
	rowNo := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
		}
		rowNo++
		if rowNo == 1 && cfg.HasHeader {
			continue
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) < need {
			return nil, fmt.Errorf("%w: row %d: want at least %d columns, got %d", ErrMalformedRow, rowNo, need, len(record))
		}
		msg, err := parseRecord(record, cfg.Schema)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrMalformedRow, rowNo, err)
		}
		rows = append(rows, msg)
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	return New(rows), nil
}

// LoadFile opens path and parses it with Load.
func LoadFile(path string, cfg config.Dataset) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %q: %w", path, err)
	}
	defer f.Close()

	ds, err := Load(f, cfg)
	if err != nil {
		return nil, fmt.Errorf("load dataset %q: %w", path, err)
	}
	return ds, nil
}

func parseRecord(record []string, schema config.Schema) (model.Message, error) {
	label, err := model.ParseTrafficLabel(record[schema.Label])
	if err != nil {
		return model.Message{}, err
	}

	var stats model.FlowStats
	fields := []struct {
		name string
		col  int
		dst  *float64
	}{
		{"duration", schema.Duration, &stats.Duration},
		{"total_packets", schema.TotalPackets, &stats.TotalPackets},
		{"total_bytes", schema.TotalBytes, &stats.TotalBytes},
		{"source_bytes", schema.SourceBytes, &stats.SourceBytes},
	}
	for _, f := range fields {
		v, err := parseNumber(record[f.col])
		if err != nil {
			return model.Message{}, fmt.Errorf("column %d (%s): %w", f.col, f.name, err)
		}
		*f.dst = v
	}

	return model.NewMessage(
		strings.TrimSpace(record[schema.Origin]),
		strings.TrimSpace(record[schema.Destination]),
		label,
		stats,
	), nil
}

// parseNumber understands plain floats and the "1.2 M" / "3 K" shorthand
// some flow exporters write for byte counts. Infinities and NaN are
// rejected.
func parseNumber(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	scale := 1.0
	switch {
	case strings.HasSuffix(s, "M"):
		scale, s = 1e6, strings.TrimSpace(strings.TrimSuffix(s, "M"))
	case strings.HasSuffix(s, "K"):
		scale, s = 1e3, strings.TrimSpace(strings.TrimSuffix(s, "K"))
	case strings.HasSuffix(s, "G"):
		scale, s = 1e9, strings.TrimSpace(strings.TrimSuffix(s, "G"))
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", raw)
	}
	return v * scale, nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.rows) }

// Row returns the i-th row.
func (d *Dataset) Row(i int) model.Message { return d.rows[i] }

// MaliciousCount returns how many rows are labelled malicious.
func (d *Dataset) MaliciousCount() int { return len(d.malicious) }

// Sample draws a uniformly random row.
func (d *Dataset) Sample(rng *rand.Rand) model.Message {
	return d.rows[rng.Intn(len(d.rows))]
}

// SampleMalicious draws a uniformly random malicious row.
func (d *Dataset) SampleMalicious(rng *rand.Rand) (model.Message, error) {
	if len(d.malicious) == 0 {
		return model.Message{}, ErrNoMaliciousRows
	}
	return d.rows[d.malicious[rng.Intn(len(d.malicious))]], nil
}
