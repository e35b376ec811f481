package chipdb

import "math"

// Scoring weights. Identity is the strongest discriminator, read timing the
// most repeatable measurement, program and erase the most variance-prone.
const (
	idMatchBonus   = -1.5
	idPartialBonus = -0.6

	weightRead  = 1.0
	weightProg  = 0.8
	weightErase = 0.6

	relErrEps = 1e-6
)

// Observation is what was measured from the device under test: its raw
// JEDEC bytes and the benchmark's typical timings.
type Observation struct {
	Manufacturer byte
	Dev0         byte
	Dev1         byte

	ReadUS  float64
	ProgMS  float64
	EraseMS float64
}

// RankEntry pairs a table position with its score, lower is better.
type RankEntry struct {
	Index int
	Score float64
}

func relErrSq(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	r := (a - b) / (math.Abs(b) + relErrEps)
	return r * r
}

// Score rates one reference record against an observation. Lower is better;
// an exact identity match with identical timings scores exactly -1.5.
func Score(rec *Record, obs Observation) float64 {
	s := 0.0

	if rec.Manufacturer == obs.Manufacturer &&
		rec.DeviceID[0] == obs.Dev0 &&
		rec.DeviceID[1] == obs.Dev1 {
		s += idMatchBonus
	} else if rec.Manufacturer == obs.Manufacturer {
		s += idPartialBonus
	}

	s += weightRead * relErrSq(obs.ReadUS, rec.ReadUS)
	s += weightProg * relErrSq(obs.ProgMS, rec.ProgMS)
	s += weightErase * relErrSq(obs.EraseMS, rec.EraseMS)

	return s
}

// TopN scans the whole table and keeps the n best-scoring records, sorted
// ascending. Insertion happens only on strict improvement over the current
// worst kept entry, so among tied scores the earliest-scanned record wins.
// Records with a non-positive read, program or erase reference time are
// treated as missing data and never scored.
func (db *DB) TopN(obs Observation, n int) []RankEntry {
	if n < 1 {
		n = 1
	}
	if n > MaxMatches {
		n = MaxMatches
	}

	best := make([]RankEntry, n)
	for i := range best {
		best[i] = RankEntry{Index: -1, Score: math.Inf(1)}
	}

	for i := range db.records {
		rec := &db.records[i]
		if rec.ReadUS <= 0 || rec.ProgMS <= 0 || rec.EraseMS <= 0 {
			continue
		}

		sc := Score(rec, obs)
		for k := 0; k < n; k++ {
			if sc < best[k].Score {
				copy(best[k+1:], best[k:n-1])
				best[k] = RankEntry{Index: i, Score: sc}
				break
			}
		}
	}

	// trim unfilled slots
	for len(best) > 0 && best[len(best)-1].Index < 0 {
		best = best[:len(best)-1]
	}
	return best
}
