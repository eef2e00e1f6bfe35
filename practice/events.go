package practice

import (
	"fmt"

	"github.com/urtextpiano-dev/urtext-sub005/model"
)

type EventType int

const (
	EventStartPractice EventType = iota
	EventNotePlayed
	EventNoteReleased
	EventFeedbackTimeout
	EventStopPractice
	EventDismissRepeatWarning
	EventToggleSectionRepeat
)

var eventNames = map[EventType]string{
	EventStartPractice:        "START_PRACTICE",
	EventNotePlayed:           "NOTE_PLAYED",
	EventNoteReleased:         "NOTE_RELEASED",
	EventFeedbackTimeout:      "FEEDBACK_TIMEOUT",
	EventStopPractice:         "STOP_PRACTICE",
	EventDismissRepeatWarning: "DISMISS_REPEAT_WARNING",
	EventToggleSectionRepeat:  "TOGGLE_SECTION_REPEAT",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(t))
}

type Event struct {
	Type EventType
	Note model.InputEvent

	// generation of the advancement that produced a FEEDBACK_TIMEOUT
	token uint64
}

func Start() Event { return Event{Type: EventStartPractice} }

func Stop() Event { return Event{Type: EventStopPractice} }

func DismissRepeatWarning() Event { return Event{Type: EventDismissRepeatWarning} }

func ToggleSectionRepeat() Event { return Event{Type: EventToggleSectionRepeat} }

func NotePlayed(midiValue, velocity uint8) Event {
	return Event{Type: EventNotePlayed, Note: model.InputEvent{Type: model.NoteOn, MIDIValue: midiValue, Velocity: velocity}}
}

func NoteReleased(midiValue uint8) Event {
	return Event{Type: EventNoteReleased, Note: model.InputEvent{Type: model.NoteOff, MIDIValue: midiValue}}
}

// FromInput maps an input event onto the machine's note events. A note on
// with zero velocity is a release.
func FromInput(in model.InputEvent) Event {
	if in.Type == model.NoteOff || in.Velocity == 0 {
		in.Type = model.NoteOff
		return Event{Type: EventNoteReleased, Note: in}
	}
	return Event{Type: EventNotePlayed, Note: in}
}
