package model

type NoteRequestBody struct {
	Type      string `json:"type"`
	MIDIValue uint8  `json:"midi_value"`
	Velocity  uint8  `json:"velocity"`
}

type TempoOverrideBody struct {
	BPM float64 `json:"bpm"`
}

type TempoResponse struct {
	BPM      float64 `json:"bpm"`
	Override bool    `json:"override"`
}

type TimelineResponse struct {
	MeasureCount int             `json:"measure_count"`
	HasRepeats   bool            `json:"has_repeats"`
	Positions    []ScorePosition `json:"positions"`
}

type ErrorResponse struct {
	Error string `json:"detail"`
}
