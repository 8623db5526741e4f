package models

type State string

const (
	Init      State = "init"
	Thinking  State = "thinking"
	Failed    State = "failed" // dead state
	Finished  State = "finished"
	Cancelled State = "cancelled"
)

// Terminal reports whether a request in this state will not change again.
func (s State) Terminal() bool {
	return s == Failed || s == Finished || s == Cancelled
}
