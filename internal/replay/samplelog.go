package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"bubble-level/internal/orientation"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are one of:
//     <t_ns>,fused,<x>,<y>,<z>[,<w>]
//     <t_ns>,pair,<ax>,<ay>,<az>,<mx>,<my>,<mz>
//   where t_ns is nanoseconds since START (monotonic).

const (
	kindFused = "fused"
	kindPair  = "pair"
)

// Record is one log entry. A nil Sample marks a START line.
type Record struct {
	At     time.Duration
	Sample *orientation.Sample
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{At: 0})
			continue
		}

		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("invalid replay line (too few fields): %q", line)
		}

		tsNs, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid replay timestamp %q: %w", fields[0], err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("invalid replay timestamp (negative): %d", tsNs)
		}

		vals, err := parseFloats(fields[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid replay line %q: %w", line, err)
		}

		var smp orientation.Sample
		switch fields[1] {
		case kindFused:
			if len(vals) != 3 && len(vals) != 4 {
				return nil, fmt.Errorf("invalid replay line (fused wants 3 or 4 values): %q", line)
			}
			smp = orientation.Fused(vals...)
		case kindPair:
			if len(vals) != 6 {
				return nil, fmt.Errorf("invalid replay line (pair wants 6 values): %q", line)
			}
			smp = orientation.RawPair(
				orientation.Vec3{vals[0], vals[1], vals[2]},
				orientation.Vec3{vals[3], vals[4], vals[5]},
			)
		default:
			return nil, fmt.Errorf("invalid replay line (unknown kind %q): %q", fields[1], line)
		}

		recs = append(recs, Record{At: time.Duration(tsNs) * time.Nanosecond, Sample: &smp})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	return recs, nil
}

func parseFloats(in []string) ([]float64, error) {
	out := make([]float64, 0, len(in))
	for _, f := range in {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite value %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}

type Writer struct {
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

func (ww *Writer) WriteSample(now time.Time, smp orientation.Sample) error {
	if ww.closed {
		return errors.New("replay writer is closed")
	}

	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}

	var b strings.Builder
	b.WriteString(strconv.FormatInt(d.Nanoseconds(), 10))
	switch smp.Kind {
	case orientation.KindFused:
		if len(smp.Vector) < 3 {
			return fmt.Errorf("fused sample has %d components", len(smp.Vector))
		}
		b.WriteString("," + kindFused)
		writeFloats(&b, smp.Vector)
	case orientation.KindRawPair:
		b.WriteString("," + kindPair)
		writeFloats(&b, smp.Accel[:])
		writeFloats(&b, smp.Mag[:])
	default:
		return fmt.Errorf("unknown sample kind %v", smp.Kind)
	}
	b.WriteByte('\n')

	_, err := ww.w.WriteString(b.String())
	return err
}

func writeFloats(b *strings.Builder, vals []float64) {
	for _, v := range vals {
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// ErrStop may be returned by a Play callback to end playback without error.
var ErrStop = errors.New("replay: stop")

// Play replays records with their relative timing.
//
// The callback is invoked for each record that carries a sample. START markers
// reset the origin.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(orientation.Sample) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if !hasSamples(records) {
		return errors.New("no records")
	}

	for {
		var origin time.Duration
		var lastAt time.Duration
		var haveLast bool

		for _, r := range records {
			if r.Sample == nil {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait < 0 {
					wait = 0
				}
				wait = time.Duration(float64(wait) / speedMultiplier)
				if wait > 0 {
					sleeper.Sleep(wait)
				}
			}

			if err := cb(*r.Sample); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}

			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}

func hasSamples(records []Record) bool {
	for _, r := range records {
		if r.Sample != nil {
			return true
		}
	}
	return false
}
