// Package chipdb holds the reference database of known SPI flash parts and
// scores an observed device against it. The database is a comma-delimited
// text file with a header line and one part per line:
//
//	name,0xMM,0xD0,0xD1,read_us,prog_ms,prog_ms_max,erase_ms,erase_ms_max
package chipdb

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// MaxRecords bounds the in-memory table; loading stops when it is full.
	MaxRecords = 1000

	// MaxMatches bounds the ranked result list.
	MaxMatches = 10

	maxNameLen = 31

	recordFields = 9
)

// Record is one reference row. A non-positive typical time means the
// datasheet had no usable figure; such records stay in the table but are
// excluded from scoring.
type Record struct {
	Name         string
	Manufacturer byte
	DeviceID     [2]byte

	ReadUS     float64
	ProgMS     float64
	ProgMaxMS  float64
	EraseMS    float64
	EraseMaxMS float64
}

type DB struct {
	records []Record
	skipped int

	LogFunc func(format string, params ...any)
}

func (db *DB) log(format string, params ...any) {
	if db.LogFunc != nil {
		db.LogFunc(format, params...)
	}
}

func (db *DB) Len() int         { return len(db.records) }
func (db *DB) Skipped() int     { return db.skipped }
func (db *DB) At(i int) *Record { return &db.records[i] }

// Load reads the delimited source, replacing any previously loaded table.
// The first line is a column header and ignored. A line that does not parse
// is reported and skipped without occupying a table slot; it never aborts
// the rest of the load.
func (db *DB) Load(r io.Reader) error {
	if db.records == nil {
		db.records = make([]Record, 0, MaxRecords)
	}
	db.records = db.records[:0]
	db.skipped = 0

	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			first = false
			continue
		}
		if line == "" {
			continue
		}
		if len(db.records) >= MaxRecords {
			db.log("database table full at %d records, remaining lines ignored", MaxRecords)
			break
		}

		rec, err := parseRecord(line)
		if err != nil {
			db.skipped++
			db.log("skipped bad database line %q: %v", line, err)
			continue
		}
		db.records = append(db.records, rec)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "reading chip database")
	}
	return nil
}

func parseRecord(line string) (Record, error) {
	fields := strings.Split(line, ",")
	if len(fields) != recordFields {
		return Record{}, errors.Errorf("expected %d fields, got %d", recordFields, len(fields))
	}

	var rec Record
	rec.Name = strings.TrimSpace(fields[0])
	if rec.Name == "" || len(rec.Name) > maxNameLen {
		return Record{}, errors.Errorf("invalid name length %d", len(rec.Name))
	}

	ids := make([]byte, 3)
	for i := 0; i < 3; i++ {
		b, err := parseHexByte(fields[1+i])
		if err != nil {
			return Record{}, err
		}
		ids[i] = b
	}
	rec.Manufacturer = ids[0]
	rec.DeviceID[0] = ids[1]
	rec.DeviceID[1] = ids[2]

	times := []*float64{&rec.ReadUS, &rec.ProgMS, &rec.ProgMaxMS, &rec.EraseMS, &rec.EraseMaxMS}
	for i, dst := range times {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[4+i]), 64)
		if err != nil {
			return Record{}, errors.Wrapf(err, "timing field %d", 4+i)
		}
		*dst = v
	}

	return rec, nil
}

func parseHexByte(field string) (byte, error) {
	s := strings.TrimSpace(field)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, errors.Errorf("identity field %q lacks 0x prefix", field)
	}
	v, err := strconv.ParseUint(s[2:], 16, 8)
	if err != nil {
		return 0, errors.Wrapf(err, "identity field %q", field)
	}
	return byte(v), nil
}
