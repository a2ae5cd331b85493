// Package synth is a small plucked-string synthesizer (Karplus-Strong) used
// by the tablature engine. Channel 9 plays metronome clicks.
package synth

import (
	"math"
	"math/rand"
)

const (
	maxVoices    = 24
	clickChannel = 9
	minKey       = 28
	maxKey       = 100
)

// Params controls the pluck engine.
type Params struct {
	Polyphony   int
	MasterGain  float64
	ReleaseSec  float64 // fade after note off
	RoomSize    float32 // 0 disables the body/room reverb
	RoomWet     float32
	ClickLength float64    // seconds
	Drive       float32    // input gain of the overdrive on programs 29-31; 0 plays them clean
	Tone        [3]float32 // low, mid, high gains; zero value leaves the tone flat
	LimitDB     float64    // limiter threshold; 0 disables it
}

func DefaultParams() Params {
	return Params{
		Polyphony:   maxVoices,
		MasterGain:  0.35,
		ReleaseSec:  0.08,
		RoomSize:    0.3,
		RoomWet:     0.18,
		ClickLength: 0.03,
		Drive:       6,
		Tone:        [3]float32{1.1, 1, 0.9},
		LimitDB:     -3,
	}
}

// timbre is what a program number changes: how bright the pluck starts and
// how fast the string loses energy.
type timbre struct {
	brightness float64 // 0..1, lowpass on the excitation
	damping    float64 // loop filter blend, closer to 0.5 rings longer
	decay      float64 // per-period gain
}

func timbreFor(program int) timbre {
	switch {
	case program == 24: // nylon
		return timbre{brightness: 0.45, damping: 0.5, decay: 0.996}
	case program == 25: // steel
		return timbre{brightness: 0.8, damping: 0.5, decay: 0.997}
	case program >= 26 && program <= 28: // clean electric
		return timbre{brightness: 0.65, damping: 0.49, decay: 0.998}
	case program >= 29 && program <= 31: // driven electric
		return timbre{brightness: 0.95, damping: 0.5, decay: 0.9985}
	case program >= 32 && program <= 39: // bass
		return timbre{brightness: 0.35, damping: 0.52, decay: 0.995}
	default:
		return timbre{brightness: 0.6, damping: 0.5, decay: 0.996}
	}
}

type voice struct {
	active   bool
	channel  int
	key      int
	buf      []float32
	pos      int
	amp      float32
	decay    float32
	damping  float32
	release  float32 // per-sample fade, 0 while held
	click    bool
	driven   bool
	phase    float64
	freq     float64
	clickLen int
	age      int
}

// Pluck implements sequencer.Target.
type Pluck struct {
	sampleRate int
	params     Params
	voices     []voice
	programs   [16]int
	noise      map[int][]float32
	rng        *rand.Rand
	drive      *drive
	master     chain
}

func New(sampleRate int, params Params) *Pluck {
	if params.Polyphony <= 0 {
		params.Polyphony = maxVoices
	}
	p := &Pluck{
		sampleRate: sampleRate,
		params:     params,
		voices:     make([]voice, params.Polyphony),
		noise:      map[int][]float32{},
		rng:        rand.New(rand.NewSource(1)),
	}
	for i := range p.programs {
		p.programs[i] = 24
	}
	if params.Drive > 0 {
		p.drive = newDrive(sampleRate, params.Drive, 0.5, 4500)
	}
	if params.Tone != [3]float32{} {
		p.master = append(p.master, newTone(sampleRate, params.Tone[0], params.Tone[1], params.Tone[2]))
	}
	if params.RoomSize > 0 {
		p.master = append(p.master, newRoom(sampleRate, params.RoomSize, 0.7, params.RoomWet))
	}
	if params.LimitDB < 0 {
		p.master = append(p.master, newLimiter(sampleRate, params.LimitDB, 8))
	}
	return p
}

// Warm precomputes excitation tables for every playable key. progress is
// called with 0..100.
func (p *Pluck) Warm(progress func(percent int)) {
	total := maxKey - minKey + 1
	for k := minKey; k <= maxKey; k++ {
		p.excitation(k)
		if progress != nil {
			progress((k - minKey + 1) * 100 / total)
		}
	}
}

func (p *Pluck) excitation(key int) []float32 {
	if buf, ok := p.noise[key]; ok {
		return buf
	}
	n := int(math.Round(float64(p.sampleRate) / keyFreq(key)))
	if n < 2 {
		n = 2
	}
	buf := make([]float32, n)
	for i := range buf {
		buf[i] = float32(p.rng.Float64()*2 - 1)
	}
	p.noise[key] = buf
	return buf
}

func keyFreq(key int) float64 {
	return 440 * math.Pow(2, float64(key-69)/12)
}

func (p *Pluck) alloc() *voice {
	oldest := 0
	for i := range p.voices {
		if !p.voices[i].active {
			return &p.voices[i]
		}
		if p.voices[i].age > p.voices[oldest].age {
			oldest = i
		}
	}
	return &p.voices[oldest]
}

func (p *Pluck) NoteOn(channel, key, velocity int) {
	if velocity <= 0 {
		p.NoteOff(channel, key)
		return
	}
	v := p.alloc()
	amp := float32(velocity) / 127
	if channel == clickChannel {
		freq := 1500.0
		if key == 76 {
			freq = 2200
		}
		*v = voice{active: true, channel: channel, key: key, amp: amp, click: true, freq: freq,
			clickLen: int(p.params.ClickLength * float64(p.sampleRate))}
		return
	}
	if key < 1 {
		return
	}
	tb := timbreFor(p.programs[channel&15])
	src := p.excitation(key)
	buf := make([]float32, len(src))
	// one-pole lowpass over the noise burst sets the attack brightness
	prev := float32(0)
	a := float32(tb.brightness)
	for i, s := range src {
		prev = prev + a*(s-prev)
		buf[i] = prev
	}
	*v = voice{active: true, channel: channel, key: key, buf: buf, amp: amp,
		decay: float32(tb.decay), damping: float32(tb.damping), driven: driven(p.programs[channel&15])}
}

func (p *Pluck) NoteOff(channel, key int) {
	for i := range p.voices {
		v := &p.voices[i]
		if v.active && v.channel == channel && v.key == key && v.release == 0 && !v.click {
			frames := p.params.ReleaseSec * float64(p.sampleRate)
			if frames < 1 {
				frames = 1
			}
			v.release = float32(1 / frames)
		}
	}
}

func (p *Pluck) ProgramChange(channel, program int) {
	p.programs[channel&15] = program
}

func (p *Pluck) Program(channel int) int { return p.programs[channel&15] }

func (p *Pluck) AllNotesOff() {
	for i := range p.voices {
		p.voices[i].active = false
	}
	if p.drive != nil {
		p.drive.reset()
	}
	p.master.reset()
}

// ActiveVoices counts voices still sounding.
func (p *Pluck) ActiveVoices() int {
	n := 0
	for _, v := range p.voices {
		if v.active {
			n++
		}
	}
	return n
}

func (p *Pluck) Render(left, right []float32) {
	gain := float32(p.params.MasterGain)
	for f := range left {
		var mix, dirty float32
		for i := range p.voices {
			v := &p.voices[i]
			if !v.active {
				continue
			}
			v.age++
			if v.click {
				mix += v.amp * float32(math.Sin(v.phase)) * (1 - float32(v.age)/float32(v.clickLen+1))
				v.phase += 2 * math.Pi * v.freq / float64(p.sampleRate)
				if v.age >= v.clickLen {
					v.active = false
				}
				continue
			}
			n := len(v.buf)
			cur := v.buf[v.pos]
			next := v.buf[(v.pos+1)%n]
			v.buf[v.pos] = v.decay * (v.damping*cur + (1-v.damping)*next)
			v.pos = (v.pos + 1) % n
			if v.driven {
				dirty += cur * v.amp
			} else {
				mix += cur * v.amp
			}
			if v.release > 0 {
				v.amp -= v.release
				if v.amp <= 0 {
					v.active = false
				}
			}
			if v.age > p.sampleRate*8 {
				v.active = false
			}
		}
		if p.drive != nil {
			dirty, _ = p.drive.process(dirty, dirty)
		}
		mix = (mix + dirty) * gain
		l, r := p.master.process(mix, mix)
		left[f] += l
		right[f] += r
	}
}
