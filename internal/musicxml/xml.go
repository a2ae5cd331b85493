package musicxml

import "encoding/xml"

type xmlScore struct {
	XMLName       xml.Name      `xml:"score-partwise"`
	WorkTitle     string        `xml:"work>work-title"`
	MovementTitle string        `xml:"movement-title"`
	ScoreParts    []xmlPartInfo `xml:"part-list>score-part"`
	Parts         []xmlPart     `xml:"part"`
}

type xmlPartInfo struct {
	ID             string              `xml:"id,attr"`
	Name           string              `xml:"part-name"`
	MIDIInstrument []xmlMIDIInstrument `xml:"midi-instrument"`
}

type xmlMIDIInstrument struct {
	Channel int `xml:"midi-channel"`
	Program int `xml:"midi-program"`
}

type xmlPart struct {
	ID       string       `xml:"id,attr"`
	Measures []xmlMeasure `xml:"measure"`
}

// xmlMeasure keeps its children in document order: cursor movement through
// backup/forward depends on it.
type xmlMeasure struct {
	Number   string
	Implicit bool
	Items    []any
}

type xmlAttributes struct {
	Divisions    int              `xml:"divisions"`
	Time         *xmlTime         `xml:"time"`
	Staves       int              `xml:"staves"`
	Clefs        []xmlClef        `xml:"clef"`
	StaffDetails []xmlStaffDetail `xml:"staff-details"`
}

type xmlTime struct {
	Beats    string `xml:"beats"`
	BeatType int    `xml:"beat-type"`
}

type xmlClef struct {
	Number int    `xml:"number,attr"`
	Sign   string `xml:"sign"`
}

type xmlStaffDetail struct {
	Number int              `xml:"number,attr"`
	Lines  int              `xml:"staff-lines"`
	Tuning []xmlStaffTuning `xml:"staff-tuning"`
}

type xmlStaffTuning struct {
	Line   int     `xml:"line,attr"`
	Step   string  `xml:"tuning-step"`
	Alter  float64 `xml:"tuning-alter"`
	Octave int     `xml:"tuning-octave"`
}

type xmlNote struct {
	Chord    *struct{} `xml:"chord"`
	Rest     *struct{} `xml:"rest"`
	Grace    *struct{} `xml:"grace"`
	Pitch    *xmlPitch `xml:"pitch"`
	Duration int       `xml:"duration"`
	Voice    string    `xml:"voice"`
	Staff    int       `xml:"staff"`
	Ties     []xmlTie  `xml:"tie"`
	String   int       `xml:"notations>technical>string"`
	Fret     *int      `xml:"notations>technical>fret"`
}

type xmlPitch struct {
	Step   string  `xml:"step"`
	Alter  float64 `xml:"alter"`
	Octave int     `xml:"octave"`
}

type xmlTie struct {
	Type string `xml:"type,attr"`
}

type xmlDuration struct {
	Duration int `xml:"duration"`
}

type xmlSound struct {
	Tempo          float64             `xml:"tempo,attr"`
	MIDIInstrument []xmlMIDIInstrument `xml:"midi-instrument"`
}

type xmlDirection struct {
	PerMinute []float64 `xml:"direction-type>metronome>per-minute"`
	Sound     *xmlSound `xml:"sound"`
}

type backupItem xmlDuration
type forwardItem xmlDuration

func (m *xmlMeasure) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "number":
			m.Number = a.Value
		case "implicit":
			m.Implicit = a.Value == "yes"
		}
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var item any
			switch t.Name.Local {
			case "attributes":
				v := &xmlAttributes{}
				err, item = d.DecodeElement(v, &t), v
			case "note":
				v := &xmlNote{}
				err, item = d.DecodeElement(v, &t), v
			case "backup":
				v := &backupItem{}
				err, item = d.DecodeElement(v, &t), v
			case "forward":
				v := &forwardItem{}
				err, item = d.DecodeElement(v, &t), v
			case "direction":
				v := &xmlDirection{}
				err, item = d.DecodeElement(v, &t), v
			case "sound":
				v := &xmlSound{}
				err, item = d.DecodeElement(v, &t), v
			default:
				err = d.Skip()
			}
			if err != nil {
				return err
			}
			if item != nil {
				m.Items = append(m.Items, item)
			}
		case xml.EndElement:
			return nil
		}
	}
}
