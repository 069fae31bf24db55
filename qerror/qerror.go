// Package qerror defines the error kinds the engine reports. Construction
// time failures (Schema, Type, JoinKey) are returned when a plan or
// expression node is built; execution time failures (Cast, Overflow,
// Cancelled) abort the in-flight pull.
package qerror

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Schema Kind = iota
	Type
	Cast
	Overflow
	JoinKey
	Cancelled
)

var kindNames = map[Kind]string{
	Schema:    "SchemaError",
	Type:      "TypeError",
	Cast:      "CastError",
	Overflow:  "OverflowError",
	JoinKey:   "JoinKeyError",
	Cancelled: "Cancelled",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return "UnknownError"
	}
	return name
}

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Schemaf(format string, args ...interface{}) *Error {
	return New(Schema, format, args...)
}

func Typef(format string, args ...interface{}) *Error {
	return New(Type, format, args...)
}

func Castf(format string, args ...interface{}) *Error {
	return New(Cast, format, args...)
}

func Overflowf(format string, args ...interface{}) *Error {
	return New(Overflow, format, args...)
}

func JoinKeyf(format string, args ...interface{}) *Error {
	return New(JoinKey, format, args...)
}

func Cancelledf(format string, args ...interface{}) *Error {
	return New(Cancelled, format, args...)
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind Kind) bool {
	var qe *Error
	return errors.As(err, &qe) && qe.Kind == kind
}
