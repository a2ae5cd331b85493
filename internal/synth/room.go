package synth

// room is a short Schroeder reverb giving the dry strings some body:
// three parallel feedback combs into one allpass.
type room struct {
	combs [3]delayLine
	diff  delayLine
	wet   float32
}

type delayLine struct {
	buf []float32
	pos int
	fb  float32
}

func newRoom(sampleRate int, size, feedback, wet float32) *room {
	base := int(float32(sampleRate) * size * 0.04)
	if base < 8 {
		base = 8
	}
	r := &room{wet: clamp32(wet, 0, 1)}
	fb := clamp32(feedback, 0, 0.9)
	for i, ratio := range [3]int{1000, 1163, 1327} {
		r.combs[i] = delayLine{buf: make([]float32, base*ratio/1000), fb: fb}
	}
	r.diff = delayLine{buf: make([]float32, max(base/4, 1)), fb: 0.5}
	return r
}

func (r *room) process(l, rr float32) (float32, float32) {
	in := (l + rr) * 0.5
	var acc float32
	for i := range r.combs {
		c := &r.combs[i]
		out := c.buf[c.pos]
		c.buf[c.pos] = in + out*c.fb
		c.pos = (c.pos + 1) % len(c.buf)
		acc += out
	}
	acc /= float32(len(r.combs))

	d := &r.diff
	delayed := d.buf[d.pos]
	d.buf[d.pos] = acc + delayed*d.fb
	d.pos = (d.pos + 1) % len(d.buf)
	acc = delayed - acc

	dry := 1 - r.wet
	return l*dry + acc*r.wet, rr*dry + acc*r.wet
}

func (r *room) reset() {
	for i := range r.combs {
		clear(r.combs[i].buf)
		r.combs[i].pos = 0
	}
	clear(r.diff.buf)
	r.diff.pos = 0
}

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
