package fulfillment

import "fmt"

// Kind classifies why a fulfillment attempt was rejected. The handler
// boundary maps kinds onto HTTP responses; nothing inside the pipeline
// retries.
type Kind string

const (
	KindAuth              Kind = "auth"
	KindValidation        Kind = "validation"
	KindConfig            Kind = "config"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindChain             Kind = "chain"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func configf(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Msg: fmt.Sprintf(format, args...)}
}

func chainErr(msg string, err error) *Error {
	return &Error{Kind: KindChain, Msg: msg, Err: err}
}
