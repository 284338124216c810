package oracle

import "fmt"

// CallError reports that the language-model call failed after all retries.
type CallError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("oracle: %s call failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ParseError reports a response that could not be turned into decisions.
// Raw holds the offending model output.
type ParseError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oracle: response parse: %s: %v", e.Reason, e.Err)
	}
	return "oracle: response parse: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
