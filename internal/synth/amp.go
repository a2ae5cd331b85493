package synth

import "math"

// stage is one step of the output chain, processing a stereo frame.
type stage interface {
	process(l, r float32) (float32, float32)
	reset()
}

type chain []stage

func (c chain) process(l, r float32) (float32, float32) {
	for _, s := range c {
		l, r = s.process(l, r)
	}
	return l, r
}

func (c chain) reset() {
	for _, s := range c {
		s.reset()
	}
}

func onePole(sampleRate int, cutoff float64) float32 {
	if cutoff <= 0 || cutoff >= float64(sampleRate)/2 {
		return 0
	}
	rc := 1 / (2 * math.Pi * cutoff)
	dt := 1 / float64(sampleRate)
	return float32(dt / (rc + dt))
}

// drive is the overdrive of the distorted electric programs: tanh
// saturation, then a lowpass taming the fizz.
type drive struct {
	pre, post float32
	alpha     float32
	lpL, lpR  float32
}

func newDrive(sampleRate int, pre, post float32, cutoff float64) *drive {
	return &drive{pre: pre, post: post, alpha: onePole(sampleRate, cutoff)}
}

func (d *drive) process(l, r float32) (float32, float32) {
	l = float32(math.Tanh(float64(l*d.pre))) * d.post
	r = float32(math.Tanh(float64(r*d.pre))) * d.post
	if d.alpha > 0 {
		d.lpL += d.alpha * (l - d.lpL)
		d.lpR += d.alpha * (r - d.lpR)
		l, r = d.lpL, d.lpR
	}
	return l, r
}

func (d *drive) reset() { d.lpL, d.lpR = 0, 0 }

// tone is a three-band shelf split at 250 Hz and 3 kHz.
type tone struct {
	low, mid, high float32
	lpA, hpA       float32
	lpL, lpR       float32
	hpL, hpR       float32
}

func newTone(sampleRate int, low, mid, high float32) *tone {
	return &tone{low: low, mid: mid, high: high, lpA: onePole(sampleRate, 250), hpA: onePole(sampleRate, 3000)}
}

func (t *tone) process(l, r float32) (float32, float32) {
	t.lpL += t.lpA * (l - t.lpL)
	t.lpR += t.lpA * (r - t.lpR)
	t.hpL += t.hpA * (l - t.hpL)
	t.hpR += t.hpA * (r - t.hpR)
	hiL, hiR := l-t.hpL, r-t.hpR
	midL, midR := l-t.lpL-hiL, r-t.lpR-hiR
	return t.lpL*t.low + midL*t.mid + hiL*t.high,
		t.lpR*t.low + midR*t.mid + hiR*t.high
}

func (t *tone) reset() { t.lpL, t.lpR, t.hpL, t.hpR = 0, 0, 0, 0 }

// limiter keeps dense chords from clipping: a fast-attack compressor on a
// linked stereo envelope.
type limiter struct {
	threshold float32
	ratio     float32
	attack    float32
	release   float32
	env       float32
}

func newLimiter(sampleRate int, thresholdDB, ratio float64) *limiter {
	coeff := func(ms float64) float32 {
		return float32(1 - math.Exp(-1/(ms*float64(sampleRate)/1000)))
	}
	return &limiter{
		threshold: float32(math.Pow(10, thresholdDB/20)),
		ratio:     float32(ratio),
		attack:    coeff(1),
		release:   coeff(120),
	}
}

func (c *limiter) process(l, r float32) (float32, float32) {
	peak := max(abs32(l), abs32(r))
	if peak > c.env {
		c.env += c.attack * (peak - c.env)
	} else {
		c.env += c.release * (peak - c.env)
	}
	if c.env <= c.threshold || c.ratio <= 1 {
		return l, r
	}
	g := float32(math.Pow(float64(c.env/c.threshold), float64(1/c.ratio-1)))
	return l * g, r * g
}

func (c *limiter) reset() { c.env = 0 }

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func driven(program int) bool { return program >= 29 && program <= 31 }
