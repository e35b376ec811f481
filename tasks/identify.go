package tasks

import (
	"github.com/pkg/errors"

	"flashprobe/bench"
	"flashprobe/chipdb"
	"flashprobe/spiflash"
)

type Match struct {
	Record *chipdb.Record
	Score  float64
}

type IdentifyResult struct {
	ID          spiflash.ID
	Report      *bench.Report
	Observation chipdb.Observation

	Loaded  int
	Skipped int

	// Matches is sorted ascending by score; Matches[0] is the best guess.
	// Record pointers stay valid until the next Identify call reloads the
	// table.
	Matches []Match
}

// Identify benchmarks the attached device, reloads the reference database
// and returns the topN best matches.
func (t *Tasks) Identify(topN int) (*IdentifyResult, error) {
	id, err := t.flash.ReadJEDEC()
	if err != nil {
		return nil, errors.Wrap(err, "identify")
	}

	t.log("starting benchmark...")
	report, err := bench.Run(t.flash)
	if err != nil {
		return nil, errors.Wrap(err, "identify: benchmark")
	}

	fp, err := t.store.Open(t.cfg.DatabasePath)
	if err != nil {
		return nil, errors.Wrapf(err, "identify: open database %s", t.cfg.DatabasePath)
	}
	defer fp.Close()

	if err := t.db.Load(fp); err != nil {
		return nil, errors.Wrap(err, "identify")
	}
	t.log("database loaded: %d records (%d lines skipped)", t.db.Len(), t.db.Skipped())

	readUS, progMS, eraseMS := report.Observed()
	obs := chipdb.Observation{
		Manufacturer: id.Manufacturer,
		Dev0:         id.MemType,
		Dev1:         id.CapacityCode,
		ReadUS:       readUS,
		ProgMS:       progMS,
		EraseMS:      eraseMS,
	}

	res := &IdentifyResult{
		ID:          id,
		Report:      report,
		Observation: obs,
		Loaded:      t.db.Len(),
		Skipped:     t.db.Skipped(),
	}
	for _, e := range t.db.TopN(obs, topN) {
		res.Matches = append(res.Matches, Match{Record: t.db.At(e.Index), Score: e.Score})
	}
	return res, nil
}
