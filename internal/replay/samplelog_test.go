package replay

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"bubble-level/internal/orientation"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(d time.Duration) {
	fs.slept = append(fs.slept, d)
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0, fused, 0.1, 0.2, 0.3
10,pair,0,0,9.81,0,22,-40
20,fused,0,0,0,1
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("expected 4 records, got %d", len(recs))
	}
	if recs[0].Sample != nil {
		t.Fatalf("expected START marker (nil sample), got %+v", recs[0].Sample)
	}
	if recs[1].Sample.Kind != orientation.KindFused || !reflect.DeepEqual(recs[1].Sample.Vector, []float64{0.1, 0.2, 0.3}) {
		t.Fatalf("unexpected sample 1: %+v", recs[1].Sample)
	}
	if recs[2].At != 10*time.Nanosecond {
		t.Fatalf("expected At=10ns, got %s", recs[2].At)
	}
	want := orientation.RawPair(orientation.Vec3{0, 0, 9.81}, orientation.Vec3{0, 22, -40})
	if !reflect.DeepEqual(*recs[2].Sample, want) {
		t.Fatalf("unexpected sample 2: %+v", recs[2].Sample)
	}
	if len(recs[3].Sample.Vector) != 4 {
		t.Fatalf("expected 4-component vector, got %v", recs[3].Sample.Vector)
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	cases := []string{
		"not-a-valid-line\n",
		"-5,fused,0,0,0\n",
		"x,fused,0,0,0\n",
		"0,fused,0,0\n",
		"0,pair,0,0,9.8,1,2\n",
		"0,euler,1,2,3\n",
		"0,fused,a,b,c\n",
		"0,fused,NaN,0,0\n",
		"0,pair,0,0,+Inf,0,20,-40\n",
	}
	for _, in := range cases {
		if _, err := NewReader(strings.NewReader(in)).ReadAll(); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestPlay_HonorsTimingAndSpeed(t *testing.T) {
	s := orientation.Fused(0, 0, 0)
	recs := []Record{
		{At: 0},
		{At: 0, Sample: &s},
		{At: 100 * time.Millisecond, Sample: &s},
		{At: 300 * time.Millisecond, Sample: &s},
		// New origin: no wait before the first record after START.
		{At: 0},
		{At: 50 * time.Millisecond, Sample: &s},
	}
	fs := &fakeSleeper{}
	var n int
	err := Play(recs, 2.0, false, fs, func(orientation.Sample) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if n != 4 {
		t.Fatalf("callbacks=%d want 4", n)
	}
	want := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}
	if !reflect.DeepEqual(fs.slept, want) {
		t.Fatalf("slept=%v want %v", fs.slept, want)
	}
}

func TestPlay_StopAndErrors(t *testing.T) {
	s := orientation.Fused(0, 0, 0)
	recs := []Record{{At: 0, Sample: &s}}

	var n int
	err := Play(recs, 1, true, &fakeSleeper{}, func(orientation.Sample) error {
		n++
		if n == 3 {
			return ErrStop
		}
		return nil
	})
	if err != nil || n != 3 {
		t.Fatalf("err=%v n=%d want nil/3", err, n)
	}

	boom := errors.New("boom")
	if err := Play(recs, 1, false, nil, func(orientation.Sample) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	if err := Play(recs, 0, false, nil, func(orientation.Sample) error { return nil }); err == nil {
		t.Fatalf("expected speed error")
	}
	if err := Play([]Record{{At: 0}}, 1, true, nil, func(orientation.Sample) error { return nil }); err == nil {
		t.Fatalf("expected error for log without samples")
	}
}

func TestRecordReplay_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	now := time.Now()
	in := []orientation.Sample{
		orientation.Fused(0.70710678, 0, 0, 0.70710678),
		orientation.RawPair(orientation.Vec3{0.125, -1.5, 9.80665}, orientation.Vec3{12.3, -4.56, -40}),
		orientation.Fused(0.1, 0.2, 0.3),
	}
	for _, s := range in {
		if err := w.WriteSample(now, s); err != nil {
			_ = w.Close()
			t.Fatalf("WriteSample() error: %v", err)
		}
	}
	if err := w.WriteSample(now, orientation.Fused(1)); err == nil {
		t.Fatalf("expected error for short fused vector")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteSample(now, in[0]); err == nil {
		t.Fatalf("expected error after Close")
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	var out []orientation.Sample
	if err := Play(recs, 1, false, &fakeSleeper{}, func(s orientation.Sample) error {
		out = append(out, s)
		return nil
	}); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("replayed=%+v want %+v", out, in)
	}
}
