package orientation

import "sync"

// PairTracker combines independently arriving accelerometer and magnetometer
// updates. Each update yields a RawPair sample once both vectors have been seen.
type PairTracker struct {
	mu      sync.Mutex
	accel   Vec3
	mag     Vec3
	haveAcc bool
	haveMag bool
}

func (p *PairTracker) UpdateAccel(v Vec3) (Sample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accel = v
	p.haveAcc = true
	return p.sampleLocked()
}

func (p *PairTracker) UpdateMag(v Vec3) (Sample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mag = v
	p.haveMag = true
	return p.sampleLocked()
}

func (p *PairTracker) sampleLocked() (Sample, bool) {
	if !p.haveAcc || !p.haveMag {
		return Sample{}, false
	}
	return RawPair(p.accel, p.mag), true
}
