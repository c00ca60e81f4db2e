package transaction

import "fmt"

// Kind is the transaction type, fixed when a request is accepted.
type Kind uint8

const (
	KindNone Kind = iota
	Write8
	Write16
	Read8
	Read16
	Read24
)

var kindNames = [...]string{
	KindNone: "None",
	Write8:   "Write8",
	Write16:  "Write16",
	Read8:    "Read8",
	Read16:   "Read16",
	Read24:   "Read24",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Bytes is the number of data bytes the kind transfers.
func (k Kind) Bytes() int {
	switch k {
	case Write8, Read8:
		return 1
	case Write16, Read16:
		return 2
	case Read24:
		return 3
	}
	return 0
}

func (k Kind) IsRead() bool {
	return k == Read8 || k == Read16 || k == Read24
}

func writeKind(width int) (Kind, bool) {
	switch width {
	case 8:
		return Write8, true
	case 16:
		return Write16, true
	}
	return KindNone, false
}

func readKind(width int) (Kind, bool) {
	switch width {
	case 8:
		return Read8, true
	case 16:
		return Read16, true
	case 24:
		return Read24, true
	}
	return KindNone, false
}

// Step is a position inside a transaction, shared by all kinds.
type Step uint8

const (
	StepIdle Step = iota
	StepStart
	StepAddr
	StepReg
	StepData
	StepRestart
	StepAddr2
	StepStop
)

var stepNames = [...]string{
	StepIdle:    "Idle",
	StepStart:   "Start",
	StepAddr:    "Addr",
	StepReg:     "Reg",
	StepData:    "Data",
	StepRestart: "Restart",
	StepAddr2:   "Addr2",
	StepStop:    "Stop",
}

func (s Step) String() string {
	if int(s) < len(stepNames) {
		return stepNames[s]
	}
	return fmt.Sprintf("Step(%d)", uint8(s))
}

// State is the engine position. Index is the data byte number (MSB first)
// and is only meaningful in StepData. The zero value is idle.
type State struct {
	Kind  Kind
	Step  Step
	Index uint8
}

func (s State) Idle() bool {
	return s.Step == StepIdle
}

func (s State) String() string {
	if s.Idle() {
		return StepIdle.String()
	}
	if s.Step == StepData {
		return fmt.Sprintf("%s.%s[%d]", s.Kind, s.Step, s.Index)
	}
	return fmt.Sprintf("%s.%s", s.Kind, s.Step)
}

func (s State) next(step Step) State {
	return State{Kind: s.Kind, Step: step}
}

func (s State) data(i int) State {
	return State{Kind: s.Kind, Step: StepData, Index: uint8(i)}
}

// lastData reports whether the state handles the final data byte.
func (s State) lastData() bool {
	return int(s.Index) == s.Kind.Bytes()-1
}
