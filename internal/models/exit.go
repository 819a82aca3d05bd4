package models

// ExitAction is the kind of action an exit strategy recommends.
type ExitAction string

// Exit actions.
const (
	ExitActionCloseFull    ExitAction = "close_full"
	ExitActionClosePartial ExitAction = "close_partial"
	ExitActionModify       ExitAction = "modify"
)

// ExitDecision is the pure output of an exit strategy for one position.
type ExitDecision struct {
	TicketID        int64
	Action          ExitAction
	PartialFraction float64 // used only when Action == ExitActionClosePartial, (0,1]
	NewSL           float64 // used only when Action == ExitActionModify
	NewTP           float64 // used only when Action == ExitActionModify
	StrategyID      string
	Priority        int // [0,100], higher wins
	Reason          string
}
