// Package musicxml loads uncompressed MusicXML (score-partwise) and
// compressed .mxl containers into the score model.
package musicxml

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/cbegin/scoresync-go/internal/errs"
	"github.com/cbegin/scoresync-go/internal/fretboard"
	"github.com/cbegin/scoresync-go/internal/score"
	"golang.org/x/net/html/charset"
)

const userLoadMessage = "The score could not be read. Check that the file is valid MusicXML."

// maxEntryBytes caps a decompressed .mxl entry.
var maxEntryBytes int64 = 64 << 20

// Parse accepts raw MusicXML bytes or a zipped .mxl container.
func Parse(data []byte) (*score.Score, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errs.Load(nil, "empty score data", userLoadMessage)
	}
	if isZip(data) {
		inner, err := extractContainer(data)
		if err != nil {
			return nil, errs.Load(err, "read mxl container", userLoadMessage)
		}
		data = inner
	}
	var doc xmlScore
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false
	if err := dec.Decode(&doc); err != nil {
		return nil, errs.Load(err, "decode musicxml", userLoadMessage)
	}
	if len(doc.Parts) == 0 {
		return nil, errs.Load(nil, "musicxml has no parts", "The score contains no parts to play.")
	}
	s, err := build(&doc)
	if err != nil {
		return nil, errs.Load(err, "build score", userLoadMessage)
	}
	fretboard.AssignScore(s)
	return s, nil
}

func isZip(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K' && data[2] == 3 && data[3] == 4
}

type container struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

func extractContainer(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	files := map[string]*zip.File{}
	for _, f := range zr.File {
		files[f.Name] = f
	}
	target := ""
	if f, ok := files["META-INF/container.xml"]; ok {
		raw, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		var c container
		if err := xml.Unmarshal(raw, &c); err == nil && len(c.Rootfiles) > 0 {
			target = c.Rootfiles[0].FullPath
		}
	}
	if target == "" {
		for _, f := range zr.File {
			ext := strings.ToLower(path.Ext(f.Name))
			if strings.HasPrefix(f.Name, "META-INF/") {
				continue
			}
			if ext == ".musicxml" || ext == ".xml" {
				target = f.Name
				break
			}
		}
	}
	f, ok := files[target]
	if !ok {
		return nil, fmt.Errorf("mxl container has no score document")
	}
	return readZipFile(f)
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxEntryBytes {
		return nil, fmt.Errorf("mxl entry %s exceeds %d bytes", f.Name, maxEntryBytes)
	}
	return data, nil
}

type partState struct {
	divisions int
	numerator int
	denom     int
	tabStaff  int
	tuning    []int
	pending   []score.Automation
}

func build(doc *xmlScore) (*score.Score, error) {
	s := &score.Score{
		Title:      strings.TrimSpace(doc.WorkTitle),
		Resolution: score.DefaultResolution,
		Tempo:      score.DefaultTempo,
	}
	if s.Title == "" {
		s.Title = strings.TrimSpace(doc.MovementTitle)
	}
	info := map[string]xmlPartInfo{}
	for _, p := range doc.ScoreParts {
		info[p.ID] = p
	}
	tempoSeen := false
	for pi, part := range doc.Parts {
		pinfo := info[part.ID]
		tr := &score.Track{Name: strings.TrimSpace(pinfo.Name), Channel: pi}
		if len(pinfo.MIDIInstrument) > 0 {
			mi := pinfo.MIDIInstrument[0]
			if mi.Program > 0 {
				tr.Program = mi.Program - 1
			}
			if mi.Channel > 0 {
				tr.Channel = mi.Channel - 1
			}
		}
		staff := &score.Staff{ShowTablature: true, ShowStandardNotation: true}
		tr.Staves = []*score.Staff{staff}
		st := &partState{divisions: 1, numerator: 4, denom: 4}
		barStart := 0
		for mi, m := range part.Measures {
			if pi > 0 && mi < len(s.MasterBars) {
				barStart = s.MasterBars[mi].StartTick
			}
			bar, length, tempos := buildMeasure(s, st, m, mi, barStart)
			staff.Bars = append(staff.Bars, bar)
			for _, tc := range tempos {
				if pi > 0 {
					continue
				}
				if tc.Tick == 0 && !tempoSeen {
					s.Tempo = tc.BPM
				}
				tempoSeen = true
				s.Tempos = append(s.Tempos, tc)
			}
			if pi == 0 || mi >= len(s.MasterBars) {
				s.MasterBars = append(s.MasterBars, score.MasterBar{
					Index:       mi,
					StartTick:   barStart,
					Length:      length,
					Numerator:   st.numerator,
					Denominator: st.denom,
				})
			}
			barStart += length
		}
		if len(st.tuning) > 0 {
			tr.Tuning = st.tuning
		}
		s.Tracks = append(s.Tracks, tr)
	}
	if len(s.MasterBars) == 0 {
		return nil, fmt.Errorf("score has no measures")
	}
	return s, nil
}

type beatKey struct {
	voice string
	tick  int
}

func buildMeasure(s *score.Score, st *partState, m xmlMeasure, index int, barStart int) (*score.Bar, int, []score.TempoChange) {
	bar := &score.Bar{Index: index, StartTick: barStart}
	voices := map[string]*score.Voice{}
	var voiceOrder []string
	beats := map[beatKey]*score.Beat{}
	var tempos []score.TempoChange
	var tabNotes []*xmlNote
	var tabTicks []int

	cursor, maxCursor, lastStart := 0, 0, 0
	toTicks := func(d int) int {
		if st.divisions <= 0 {
			return 0
		}
		return d * s.Resolution / st.divisions
	}
	advance := func(d int) {
		cursor += d
		if cursor < 0 {
			cursor = 0
		}
		if cursor > maxCursor {
			maxCursor = cursor
		}
	}
	for _, item := range m.Items {
		switch v := item.(type) {
		case *xmlAttributes:
			applyAttributes(st, v)
		case *backupItem:
			cursor -= toTicks(v.Duration)
			if cursor < 0 {
				cursor = 0
			}
		case *forwardItem:
			advance(toTicks(v.Duration))
		case *xmlDirection:
			bpm := 0.0
			if v.Sound != nil {
				bpm = v.Sound.Tempo
				st.pending = append(st.pending, instrumentAutomations(v.Sound)...)
			}
			if bpm <= 0 && len(v.PerMinute) > 0 {
				bpm = v.PerMinute[0]
			}
			if bpm > 0 {
				tempos = append(tempos, score.TempoChange{Tick: barStart + cursor, BPM: bpm})
			}
		case *xmlSound:
			if v.Tempo > 0 {
				tempos = append(tempos, score.TempoChange{Tick: barStart + cursor, BPM: v.Tempo})
			}
			st.pending = append(st.pending, instrumentAutomations(v)...)
		case *xmlNote:
			if v.Grace != nil {
				continue
			}
			start := cursor
			if v.Chord != nil {
				start = lastStart
			}
			dur := toTicks(v.Duration)
			if st.tabStaff > 0 && v.Staff == st.tabStaff {
				tabNotes = append(tabNotes, v)
				tabTicks = append(tabTicks, start)
				if v.Chord == nil {
					lastStart = start
					advance(dur)
				}
				continue
			}
			vid := v.Voice
			if vid == "" {
				vid = "1"
			}
			voice, ok := voices[vid]
			if !ok {
				voice = &score.Voice{}
				voices[vid] = voice
				voiceOrder = append(voiceOrder, vid)
			}
			key := beatKey{voice: vid, tick: start}
			beat, ok := beats[key]
			if !ok {
				beat = &score.Beat{StartTick: barStart + start, Duration: dur, Rest: v.Rest != nil}
				beats[key] = beat
				voice.Beats = append(voice.Beats, beat)
				if len(st.pending) > 0 {
					beat.Automations = append(beat.Automations, st.pending...)
					st.pending = nil
				}
			}
			if v.Rest == nil && v.Pitch != nil {
				beat.Rest = false
				beat.Notes = append(beat.Notes, noteFrom(v))
			}
			if v.Chord == nil {
				lastStart = start
				advance(dur)
			}
		}
	}
	mergeTabPositions(beats, tabNotes, tabTicks)
	for _, vid := range voiceOrder {
		vb := voices[vid].Beats
		sort.SliceStable(vb, func(i, j int) bool { return vb[i].StartTick < vb[j].StartTick })
		bar.Voices = append(bar.Voices, voices[vid])
	}
	full := s.Resolution * 4 * st.numerator / max(st.denom, 1)
	length := maxCursor
	if length == 0 || (!m.Implicit && length < full) {
		length = full
	}
	return bar, length, tempos
}

// mergeTabPositions copies string/fret from a dedicated TAB staff onto the
// matching notation-staff notes, which are the ones that get played.
func mergeTabPositions(beats map[beatKey]*score.Beat, tabNotes []*xmlNote, tabTicks []int) {
	if len(tabNotes) == 0 {
		return
	}
	byTick := map[int][]*score.Beat{}
	for k, b := range beats {
		byTick[k.tick] = append(byTick[k.tick], b)
	}
	for i, tn := range tabNotes {
		if tn.Pitch == nil || tn.String == 0 || tn.Fret == nil {
			continue
		}
		key := pitchKey(tn.Pitch)
		for _, b := range byTick[tabTicks[i]] {
			for _, n := range b.Notes {
				if n.Key == key && n.String == 0 {
					n.String, n.Fret = tn.String, *tn.Fret
				}
			}
		}
	}
}

func applyAttributes(st *partState, a *xmlAttributes) {
	if a.Divisions > 0 {
		st.divisions = a.Divisions
	}
	if a.Time != nil {
		if n, err := strconv.Atoi(strings.SplitN(a.Time.Beats, "+", 2)[0]); err == nil && n > 0 {
			st.numerator = n
		}
		if a.Time.BeatType > 0 {
			st.denom = a.Time.BeatType
		}
	}
	for _, c := range a.Clefs {
		if strings.EqualFold(c.Sign, "TAB") {
			st.tabStaff = max(c.Number, 1)
		}
	}
	for _, sd := range a.StaffDetails {
		if len(sd.Tuning) == 0 {
			continue
		}
		lines := append([]xmlStaffTuning(nil), sd.Tuning...)
		// line 1 is the lowest string; tuning is stored highest first.
		sort.Slice(lines, func(i, j int) bool { return lines[i].Line > lines[j].Line })
		tuning := make([]int, 0, len(lines))
		for _, l := range lines {
			tuning = append(tuning, keyOf(l.Step, l.Alter, l.Octave))
		}
		st.tuning = tuning
	}
}

func instrumentAutomations(snd *xmlSound) []score.Automation {
	var out []score.Automation
	for _, mi := range snd.MIDIInstrument {
		if mi.Program > 0 {
			out = append(out, score.Automation{Type: score.AutomationInstrument, Value: float64(mi.Program - 1)})
		}
	}
	return out
}

func noteFrom(v *xmlNote) *score.Note {
	n := &score.Note{
		Key:    pitchKey(v.Pitch),
		Step:   strings.ToUpper(strings.TrimSpace(v.Pitch.Step)),
		Alter:  int(math.Round(v.Pitch.Alter)),
		Octave: v.Pitch.Octave,
	}
	if v.String > 0 && v.Fret != nil {
		n.String, n.Fret = v.String, *v.Fret
	}
	for _, t := range v.Ties {
		if t.Type == "stop" {
			n.TieDestination = true
		}
	}
	return n
}

var stepSemitones = map[string]int{"C": 0, "D": 2, "E": 4, "F": 5, "G": 7, "A": 9, "B": 11}

func pitchKey(p *xmlPitch) int {
	return keyOf(p.Step, p.Alter, p.Octave)
}

func keyOf(step string, alter float64, octave int) int {
	semi := stepSemitones[strings.ToUpper(strings.TrimSpace(step))]
	return (octave+1)*12 + semi + int(math.Round(alter))
}
