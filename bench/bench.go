// Package bench measures erase, program and read latencies of the attached
// flash device. Its output is the observed-timing triple the identification
// scorer compares against the reference database.
package bench

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"flashprobe/spiflash"
)

const (
	EraseTrials   = 30
	ProgramTrials = 30
	ReadTrials    = 100

	// All trials hammer one fixed sector so wear stays confined.
	targetAddr = 0x000000
)

// Stat tracks running minimum, maximum and mean of trial wall times in
// microseconds.
type Stat struct {
	MinUS float64
	MaxUS float64
	sum   float64
	n     int
}

func (s *Stat) add(us float64) {
	if s.n == 0 || us < s.MinUS {
		s.MinUS = us
	}
	if s.n == 0 || us > s.MaxUS {
		s.MaxUS = us
	}
	s.sum += us
	s.n++
}

func (s *Stat) AvgUS() float64 {
	if s.n == 0 {
		return 0
	}
	return s.sum / float64(s.n)
}

type Report struct {
	Erase   Stat
	Program Stat
	Read    Stat
}

// Observed returns the triple used for identification: typical read time in
// microseconds, typical program and erase times in milliseconds.
func (r *Report) Observed() (readUS, progMS, eraseMS float64) {
	return r.Read.AvgUS(), r.Program.AvgUS() / 1000.0, r.Erase.AvgUS() / 1000.0
}

func (r *Report) String() string {
	var b strings.Builder
	b.WriteString("================ Benchmark Summary ================\n")
	b.WriteString("Operation        |      Min |      Max |      Avg\n")
	b.WriteString("---------------------------------------------------\n")
	fmt.Fprintf(&b, "Erase (ms) x%-4d | %8.2f | %8.2f | %8.2f\n",
		EraseTrials, r.Erase.MinUS/1000, r.Erase.MaxUS/1000, r.Erase.AvgUS()/1000)
	fmt.Fprintf(&b, "Program (ms) x%-2d | %8.2f | %8.2f | %8.2f\n",
		ProgramTrials, r.Program.MinUS/1000, r.Program.MaxUS/1000, r.Program.AvgUS()/1000)
	fmt.Fprintf(&b, "Read (us) x%-4d  | %8.2f | %8.2f | %8.2f\n",
		ReadTrials, r.Read.MinUS, r.Read.MaxUS, r.Read.AvgUS())
	b.WriteString("===================================================")
	return b.String()
}

// Run executes the fixed trial loops against the device. A driver failure
// aborts the run; a staged erase retry is timed as part of its trial, as
// that is the latency an operator actually experiences.
func Run(fl *spiflash.Flash) (*Report, error) {
	page := make([]byte, spiflash.PageSize)
	for i := range page {
		page[i] = byte(i)
	}

	var r Report

	for i := 0; i < EraseTrials; i++ {
		start := time.Now()
		if err := fl.EraseSector(targetAddr); err != nil {
			return nil, errors.Wrapf(err, "erase trial %d", i)
		}
		r.Erase.add(float64(time.Since(start)) / float64(time.Microsecond))
	}

	for i := 0; i < ProgramTrials; i++ {
		start := time.Now()
		if err := fl.ProgramPage(targetAddr, page); err != nil {
			return nil, errors.Wrapf(err, "program trial %d", i)
		}
		r.Program.add(float64(time.Since(start)) / float64(time.Microsecond))
	}

	for i := 0; i < ReadTrials; i++ {
		start := time.Now()
		if err := fl.Read(targetAddr, page); err != nil {
			return nil, errors.Wrapf(err, "read trial %d", i)
		}
		r.Read.add(float64(time.Since(start)) / float64(time.Microsecond))
	}

	return &r, nil
}
