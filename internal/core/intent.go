package core

import "github.com/shopspring/decimal"

// CommandKind enumerates the bot commands.
type CommandKind int

const (
	CommandHelp CommandKind = iota + 1
	CommandTotal
	CommandMonthlyTotal
	CommandResetDay
	CommandAddPast
	CommandDelete
)

func (k CommandKind) String() string {
	switch k {
	case CommandHelp:
		return "help"
	case CommandTotal:
		return "total"
	case CommandMonthlyTotal:
		return "monthly-total"
	case CommandResetDay:
		return "reset-day"
	case CommandAddPast:
		return "add-past"
	case CommandDelete:
		return "delete"
	default:
		return "unknown"
	}
}

type (
	// Intent is what a piece of channel text means: a Command or SpendingLines.
	Intent interface {
		isIntent()
	}

	// Command is a slash command. Date and Month carry optional arguments;
	// Line is set for add-past. Err is set when the arguments were malformed.
	Command struct {
		Kind  CommandKind
		Date  *Date
		Month *Month
		Line  *SpendingLine
		Err   error
	}

	// SpendingLine is one parsed "Category Amount [Currency]" line.
	SpendingLine struct {
		Raw       string
		Category  string // lower-cased
		Amount    decimal.Decimal
		Currency  string // upper-cased
		LineIndex int    // position among the message's non-blank lines
	}

	// SpendingLines is every line of a message that parsed as a spending.
	// Empty means the text was not a spending message.
	SpendingLines []SpendingLine
)

func (Command) isIntent()       {}
func (SpendingLines) isIntent() {}
