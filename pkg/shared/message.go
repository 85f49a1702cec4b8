package shared

import (
	"github.com/antibyte/raamcode/pkg/brainfuck"
)

// MessageType definiert den Typ einer Nachricht für die WebSocket-Kommunikation.
type MessageType int

const (
	MessageTypeText    MessageType = 0 // Programmausgabe
	MessageTypeStatus  MessageType = 1 // Statuszeile mit IP/DP
	MessageTypeTape    MessageType = 2 // Bandinhalt
	MessageTypeError   MessageType = 3 // Fehlertext
	MessageTypeSession MessageType = 4 // Session-ID Übermittlung
	MessageTypeSamples MessageType = 5 // Liste der Beispielprogramme
	MessageTypeCount   MessageType = 6 // Worthäufigkeiten
	MessageTypeSource  MessageType = 7 // Quelltext (sample, condense)
)

// SampleInfo beschreibt ein Beispielprogramm in der Auswahlliste
type SampleInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Message repräsentiert eine Nachricht, die über WebSocket gesendet wird.
type Message struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`

	// Für SESSION
	SessionID string `json:"sessionId,omitempty"`

	// Für STATUS und TAPE
	Variant            string `json:"variant,omitempty"`
	InstructionPointer int    `json:"ip"`
	DataPointer        int    `json:"dp"`
	Halted             bool   `json:"halted,omitempty"`
	Tape               []int  `json:"tape,omitempty"`

	// Für SAMPLES
	Samples []SampleInfo `json:"samples,omitempty"`

	// Für COUNT
	Counts []brainfuck.WordCount `json:"counts,omitempty"`
}

// Request is what clients send over the websocket
type Request struct {
	Command string `json:"command"`
	Content string `json:"content,omitempty"`
	Variant string `json:"variant,omitempty"`
	Sample  string `json:"sample,omitempty"`
}

// TextMessage creates an output message
func TextMessage(content string) Message {
	return Message{Type: MessageTypeText, Content: content}
}

// ErrorMessage creates an error message with the user facing text of err
func ErrorMessage(err error) Message {
	return Message{Type: MessageTypeError, Content: brainfuck.FriendlyErrorText(err)}
}

// StatusMessage creates the status line message for a machine state
func StatusMessage(status string, variant brainfuck.Variant, state brainfuck.State) Message {
	return Message{
		Type:               MessageTypeStatus,
		Content:            status,
		Variant:            variant.String(),
		InstructionPointer: state.InstructionPointer,
		DataPointer:        state.DataPointer,
		Halted:             state.Halted,
	}
}

// TapeMessage creates a message carrying the tape cells
func TapeMessage(state brainfuck.State) Message {
	return Message{
		Type:               MessageTypeTape,
		InstructionPointer: state.InstructionPointer,
		DataPointer:        state.DataPointer,
		Tape:               state.Tape,
	}
}
