package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"bubble-level/internal/orientation"
	"bubble-level/internal/replay"
)

type logSummary struct {
	Segments    int
	Samples     int
	Fused       int
	RawPairs    int
	Degenerate  int
	MaxDuration time.Duration
}

func summarizeSampleLog(records []replay.Record) logSummary {
	var s logSummary
	if len(records) == 0 {
		return s
	}

	origin := time.Duration(0)
	hasSamples := false
	segments := 0

	for _, r := range records {
		if r.Sample == nil {
			segments++
			origin = r.At
			continue
		}
		hasSamples = true

		s.Samples++
		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}

		switch r.Sample.Kind {
		case orientation.KindFused:
			s.Fused++
		case orientation.KindRawPair:
			s.RawPairs++
		}
		if _, ok := orientation.Resolve(*r.Sample, orientation.Rotation0); !ok {
			s.Degenerate++
		}
	}
	if segments == 0 && hasSamples {
		segments = 1
	}
	s.Segments = segments

	return s
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeSampleLog(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "samples: %d\n", s.Samples)
	fmt.Fprintf(w, "fused: %d\n", s.Fused)
	fmt.Fprintf(w, "raw_pairs: %d\n", s.RawPairs)
	fmt.Fprintf(w, "degenerate: %d\n", s.Degenerate)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	return nil
}
