package models

// ValueState tags a raw lookup result. A missing key and an explicit null
// are both Absent; a value that exists but cannot be used is Malformed.
type ValueState uint8

const (
	Absent ValueState = iota
	Present
	Malformed
)

func (s ValueState) String() string {
	switch s {
	case Present:
		return "present"
	case Malformed:
		return "malformed"
	default:
		return "absent"
	}
}

// Value is the tagged union returned by raw lookups.
type Value struct {
	State  ValueState
	Raw    any
	Reason string
}

func PresentValue(raw any) Value { return Value{State: Present, Raw: raw} }

func AbsentValue() Value { return Value{State: Absent} }

func MalformedValue(raw any, reason string) Value {
	return Value{State: Malformed, Raw: raw, Reason: reason}
}
