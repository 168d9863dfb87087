package audio

// MessageKind identifies a message sent to the generator.
type MessageKind int

const (
	MsgSetFormula MessageKind = iota
	MsgGenerationRequested
)

func (k MessageKind) String() string {
	switch k {
	case MsgSetFormula:
		return "set_formula"
	case MsgGenerationRequested:
		return "generation_requested"
	default:
		return "unknown"
	}
}

// Message is the only way to reach the generator goroutine.
type Message struct {
	Kind    MessageKind
	Source  string            // MsgSetFormula
	Request GenerationRequest // MsgGenerationRequested
}

// EventKind identifies a message coming back from the generator.
type EventKind int

const (
	EventFormulaAccepted EventKind = iota
	EventFormulaRejected
	EventAudioBlockReady
)

func (k EventKind) String() string {
	switch k {
	case EventFormulaAccepted:
		return "formula_accepted"
	case EventFormulaRejected:
		return "formula_rejected"
	case EventAudioBlockReady:
		return "audio_block_ready"
	default:
		return "unknown"
	}
}

// Event reports the outcome of one Message.
type Event struct {
	Kind    EventKind
	Source  string            // formula events
	Reason  string            // EventFormulaRejected
	Request GenerationRequest // EventAudioBlockReady
	Block   *Block            // nil when no formula has been accepted yet
}
