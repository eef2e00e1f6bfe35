package model

// ScorePosition is one logical entry of the linear timeline.
type ScorePosition struct {
	MeasureIndex    int     `json:"measure_index"`
	SourceIndex     int     `json:"source_index"`
	PartIndex       int     `json:"part_index"`
	DurationInBeats float64 `json:"duration_in_beats"`
}

type TempoSource int

const (
	SourceHeuristic TempoSource = iota
	SourceText
	SourceExplicit
)

func (s TempoSource) String() string {
	switch s {
	case SourceExplicit:
		return "explicit"
	case SourceText:
		return "text"
	default:
		return "heuristic"
	}
}

// Priority orders sources for tie breaks; higher wins.
func (s TempoSource) Priority() int {
	return int(s)
}

type TempoEvent struct {
	MeasureIndex int         `json:"measure_index"`
	BPM          float64     `json:"bpm"`
	Confidence   float64     `json:"confidence"`
	Source       TempoSource `json:"source"`
}

type NoteContext struct {
	NoteID       string `json:"note_id"`
	MeasureIndex int    `json:"measure_index"`
	IsPhraseEnd  bool   `json:"is_phrase_end"`
	HasFermata   bool   `json:"has_fermata"`
	IsBarlineEnd bool   `json:"is_barline_end"`

	// nil when no rest follows the note
	RestDurationAfter *float64 `json:"rest_duration_after,omitempty"`
}
