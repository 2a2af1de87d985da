package chat

import "errors"

// ErrToolLoopExceeded is returned when the model keeps requesting tools past
// the configured number of rounds.
var ErrToolLoopExceeded = errors.New("chat: tool loop exceeded")

// User-facing messages. They never echo classifier categories or upstream errors.
const (
	BlockedMessage  = "I'm sorry, but I can't help with that request. Please rephrase your message and try again."
	FilteredMessage = "The response was blocked by the content filter. Please try rephrasing your request."
	ErrorMessage    = "Something went wrong while generating a response. Please try again."
	TimeoutMessage  = "The assistant took too long to respond. Please try again."
)
