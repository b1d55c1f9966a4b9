// Package event defines the input record accepted by the sink and the
// recursive structured-property variant attached to it.
package event

import "time"

// Level is an ordered log severity, matching the host logging pipeline's
// enumeration.
type Level int

const (
	Verbose Level = iota
	Debug
	Information
	Warning
	Error
	Fatal
)

// String returns the Pascal-cased enum name bound into the Level column.
func (l Level) String() string {
	switch l {
	case Verbose:
		return "Verbose"
	case Debug:
		return "Debug"
	case Information:
		return "Information"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	case Fatal:
		return "Fatal"
	default:
		return "Information"
	}
}

// LogEvent is an immutable record produced by the host logging pipeline.
// Exception is the empty string when the event carries no exception; the
// sink never distinguishes "absent" from "empty" beyond that.
type LogEvent struct {
	Timestamp       time.Time
	MessageTemplate string
	RenderedMessage string
	Exception       string
	Properties      map[string]Property
	Level           Level
}

// New creates a LogEvent with an empty properties map, ready to have
// entries added before Emit.
func New(ts time.Time, level Level, rendered string) *LogEvent {
	return &LogEvent{
		Timestamp:       ts,
		Level:           level,
		RenderedMessage: rendered,
		Properties:      make(map[string]Property),
	}
}

// PropertyKind tags the variant carried by a Property.
type PropertyKind int

const (
	KindScalar PropertyKind = iota
	KindSequence
	KindMapping
	KindStructured
)

// NamedProperty pairs a property name with its value, used inside a
// structured value's ordered property list.
type NamedProperty struct {
	Name  string
	Value Property
}

// Property is a recursive tagged union: scalar(primitive) |
// sequence(list) | mapping(name->value) | structured(type tag + ordered
// named values).
type Property struct {
	Scalar     interface{}
	Sequence   []Property
	Mapping    map[string]Property
	TypeTag    string
	Structured []NamedProperty
	Kind       PropertyKind
}

// Scalar wraps a primitive (string, number, bool, nil) as a Property.
func Scalar(v interface{}) Property {
	return Property{Kind: KindScalar, Scalar: v}
}

// Sequence wraps an ordered list of values as a Property.
func Sequence(values ...Property) Property {
	return Property{Kind: KindSequence, Sequence: values}
}

// Mapping wraps a name-keyed map of values as a Property.
func Mapping(m map[string]Property) Property {
	return Property{Kind: KindMapping, Mapping: m}
}

// Structured wraps a type-tagged, ordered list of named values as a
// Property. typeTag is the stringly-typed hook the host uses to flag
// key/value-pair shapes ("DictionaryEntry", "KeyValuePair<...>").
func Structured(typeTag string, values ...NamedProperty) Property {
	return Property{Kind: KindStructured, TypeTag: typeTag, Structured: values}
}
