package chipdb

import (
	"fmt"
	"math"
	"strings"
	"testing"
)

const sampleCSV = `name,manf,dev0,dev1,read_us,prog_ms,prog_max,erase_ms,erase_max
W25Q64FV,0xEF,0x40,0x17,8.5,0.7,3.0,45.0,400.0
MX25L6406E,0xC2,0x20,0x17,9.1,0.6,5.0,60.0,300.0
not enough fields,0xEF,0x40
NotHex,0xZZ,0x40,0x17,8.5,0.7,3.0,45.0,400.0
BadFloat,0xEF,0x40,0x17,fast,0.7,3.0,45.0,400.0
NoPrefix,EF,0x40,0x17,8.5,0.7,3.0,45.0,400.0
AT25SF081,0x1F,0x85,0x01,7.9,0.9,2.5,50.0,950.0
`

func TestLoad(t *testing.T) {
	var db DB
	db.LogFunc = t.Logf

	if err := db.Load(strings.NewReader(sampleCSV)); err != nil {
		t.Fatal(err)
	}
	if db.Len() != 3 {
		t.Fatalf("loaded %d records, want 3", db.Len())
	}
	if db.Skipped() != 4 {
		t.Errorf("skipped %d lines, want 4", db.Skipped())
	}

	rec := db.At(0)
	if rec.Name != "W25Q64FV" || rec.Manufacturer != 0xEF ||
		rec.DeviceID != [2]byte{0x40, 0x17} || rec.ReadUS != 8.5 || rec.EraseMaxMS != 400.0 {
		t.Errorf("first record parsed wrong: %+v", rec)
	}

	// reload replaces, never appends
	if err := db.Load(strings.NewReader(sampleCSV)); err != nil {
		t.Fatal(err)
	}
	if db.Len() != 3 {
		t.Errorf("reload gave %d records, want 3", db.Len())
	}
}

func TestLoadCapacityBound(t *testing.T) {
	var b strings.Builder
	b.WriteString("header\n")
	for i := 0; i < MaxRecords+50; i++ {
		fmt.Fprintf(&b, "chip%d,0x01,0x02,0x03,1.0,1.0,1.0,1.0,1.0\n", i)
	}

	var db DB
	if err := db.Load(strings.NewReader(b.String())); err != nil {
		t.Fatal(err)
	}
	if db.Len() != MaxRecords {
		t.Errorf("loaded %d records, want capacity %d", db.Len(), MaxRecords)
	}
}

func TestScoreExactMatch(t *testing.T) {
	rec := &Record{
		Manufacturer: 0xEF,
		DeviceID:     [2]byte{0x40, 0x17},
		ReadUS:       8.5, ProgMS: 0.7, EraseMS: 45.0,
	}
	obs := Observation{
		Manufacturer: 0xEF, Dev0: 0x40, Dev1: 0x17,
		ReadUS: 8.5, ProgMS: 0.7, EraseMS: 45.0,
	}

	if got := Score(rec, obs); math.Abs(got-(-1.5)) > 1e-9 {
		t.Errorf("exact match scores %v, want -1.5", got)
	}

	obs.Dev1 = 0x18
	if got := Score(rec, obs); math.Abs(got-(-0.6)) > 1e-9 {
		t.Errorf("manufacturer-only match scores %v, want -0.6", got)
	}

	obs.Manufacturer = 0xC2
	if got := Score(rec, obs); math.Abs(got) > 1e-9 {
		t.Errorf("no identity match scores %v, want 0", got)
	}
}

func TestScoreZeroReferenceTime(t *testing.T) {
	rec := &Record{ReadUS: 0, ProgMS: 0, EraseMS: 0}
	obs := Observation{Manufacturer: 1, ReadUS: 100, ProgMS: 5, EraseMS: 50}

	// zero reference values contribute nothing instead of blowing up
	if got := Score(rec, obs); got != 0 {
		t.Errorf("score with zero references = %v, want 0", got)
	}
}

// refTimeFor returns a reference read time such that a record with matching
// program/erase timings and no identity match scores approximately want.
func refTimeFor(obsRead, want float64) float64 {
	return obsRead / (1 + math.Sqrt(want))
}

func TestTopNOrderAndTies(t *testing.T) {
	obs := Observation{Manufacturer: 0x99, ReadUS: 6, ProgMS: 2, EraseMS: 30}

	var db DB
	for _, s := range []float64{5, 1, 3, 1, 9} {
		db.records = append(db.records, Record{
			Name:         fmt.Sprintf("score%.0f", s),
			Manufacturer: 0x01,
			ReadUS:       refTimeFor(obs.ReadUS, s),
			ProgMS:       obs.ProgMS,
			EraseMS:      obs.EraseMS,
		})
	}

	got := db.TopN(obs, 3)
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}

	wantIdx := []int{1, 3, 2} // the two score-1 records in scan order, then score 3
	wantScore := []float64{1, 1, 3}
	for i := range got {
		if got[i].Index != wantIdx[i] {
			t.Errorf("rank %d: index %d, want %d", i, got[i].Index, wantIdx[i])
		}
		if math.Abs(got[i].Score-wantScore[i]) > 1e-4 {
			t.Errorf("rank %d: score %v, want ~%v", i, got[i].Score, wantScore[i])
		}
	}
}

func TestTopNExcludesMissingData(t *testing.T) {
	obs := Observation{ReadUS: 6, ProgMS: 2, EraseMS: 30}

	var db DB
	db.records = append(db.records,
		Record{Name: "no-erase", ReadUS: 6, ProgMS: 2, EraseMS: 0},
		Record{Name: "ok", ReadUS: 6, ProgMS: 2, EraseMS: 30},
		Record{Name: "neg-read", ReadUS: -1, ProgMS: 2, EraseMS: 30},
	)

	got := db.TopN(obs, 5)
	if len(got) != 1 || got[0].Index != 1 {
		t.Fatalf("got %+v, want only record 1", got)
	}
}

func TestTopNClamp(t *testing.T) {
	var db DB
	db.records = append(db.records, Record{ReadUS: 1, ProgMS: 1, EraseMS: 1})
	obs := Observation{ReadUS: 1, ProgMS: 1, EraseMS: 1}

	if got := db.TopN(obs, 0); len(got) != 1 {
		t.Errorf("n=0: got %d entries", len(got))
	}
	if got := db.TopN(obs, 99); len(got) != 1 {
		t.Errorf("n=99: got %d entries (list must trim unfilled slots)", len(got))
	}
}
