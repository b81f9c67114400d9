package command

import "fmt"

// ErrorCode classifies a DecodeError.
type ErrorCode int

const (
	ErrWrongFormat ErrorCode = iota + 1
	ErrUnknownCommand
	ErrNoParam
	ErrWrongType
	ErrWrongValue
)

// DecodeError describes why a command line was rejected. Value is the
// offending token and Name the parameter it was decoded as.
type DecodeError struct {
	Code  ErrorCode
	Value string
	Name  string
}

// Error returns the message reported to the controller.
func (e *DecodeError) Error() string {
	switch e.Code {
	case ErrWrongFormat:
		return "wrong message format"
	case ErrUnknownCommand:
		return fmt.Sprintf("unknown command(%s)", e.Value)
	case ErrNoParam:
		return fmt.Sprintf("not enough parameter(%s)", e.Name)
	case ErrWrongType:
		return fmt.Sprintf("wrong value type(%s)", e.Name)
	case ErrWrongValue:
		return fmt.Sprintf("wrong value(%s)", e.Name)
	}
	return "error occur"
}
