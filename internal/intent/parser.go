// Package intent turns raw channel text into a core.Intent.
package intent

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"accountant/internal/core"
)

var (
	// "<category> <amount>[ ]<currency>?" where amount may carry thousand commas.
	// Only a three-letter word counts as a currency; "Dinner with 3 friends" is chatter.
	lineRe    = regexp.MustCompile(`^(.+?)\s+([\d,]+(?:\.\d+)?)\s*([A-Za-z]{3})?$`)
	commandRe = regexp.MustCompile(`(?i)^/([a-z-]+)(?:@\w+)?(?:\s+(.*))?$`)

	ErrMissingArgument = errors.New("missing argument")
)

var commands = map[string]core.CommandKind{
	"help":          core.CommandHelp,
	"start":         core.CommandHelp,
	"total":         core.CommandTotal,
	"monthly-total": core.CommandMonthlyTotal,
	"reset-day":     core.CommandResetDay,
	"add-past":      core.CommandAddPast,
	"delete":        core.CommandDelete,
}

// Parser parses channel text. HomeCurrency is used when a line names no currency.
type Parser struct {
	HomeCurrency string
}

// New returns a parser defaulting lines without a currency to home.
func New(home string) *Parser {
	return &Parser{HomeCurrency: strings.ToUpper(home)}
}

// Parse classifies text as a command or a set of spending lines. Unknown
// slash commands and non-spending text yield empty SpendingLines.
func (p *Parser) Parse(text string) core.Intent {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "/") {
		if cmd, ok := p.parseCommand(text); ok {
			return cmd
		}
		return core.SpendingLines{}
	}
	return p.ParseLines(text)
}

// ParseLines splits text on newlines, drops blank lines and parses each
// remaining line. LineIndex is the position among non-blank lines, so a line
// that does not parse still consumes an index.
func (p *Parser) ParseLines(text string) core.SpendingLines {
	lines := core.SpendingLines{}
	idx := 0
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if line, ok := p.parseLine(raw); ok {
			line.LineIndex = idx
			lines = append(lines, line)
		}
		idx++
	}
	return lines
}

func (p *Parser) parseLine(raw string) (core.SpendingLine, bool) {
	m := lineRe.FindStringSubmatch(raw)
	if m == nil {
		return core.SpendingLine{}, false
	}
	category := strings.ToLower(strings.TrimSpace(m[1]))
	if category == "" {
		return core.SpendingLine{}, false
	}
	amount, err := core.ParseAmount(m[2])
	if err != nil {
		return core.SpendingLine{}, false
	}
	currency := p.HomeCurrency
	if m[3] != "" {
		currency = strings.ToUpper(m[3])
	}
	return core.SpendingLine{
		Raw:      raw,
		Category: category,
		Amount:   amount,
		Currency: currency,
	}, true
}

func (p *Parser) parseCommand(text string) (core.Command, bool) {
	// Commands are single-line; anything after the first line is ignored.
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	m := commandRe.FindStringSubmatch(text)
	if m == nil {
		return core.Command{}, false
	}
	kind, ok := commands[strings.ToLower(m[1])]
	if !ok {
		return core.Command{}, false
	}
	arg := strings.TrimSpace(m[2])
	cmd := core.Command{Kind: kind}

	switch kind {
	case core.CommandTotal:
		if arg != "" {
			d, err := core.ParseDate(arg)
			if err != nil {
				cmd.Err = err
				break
			}
			cmd.Date = &d
		}
	case core.CommandMonthlyTotal:
		if arg != "" {
			mo, err := core.ParseMonth(arg)
			if err != nil {
				cmd.Err = err
				break
			}
			cmd.Month = &mo
		}
	case core.CommandAddPast:
		cmd.Err = p.parseAddPast(arg, &cmd)
	}
	return cmd, true
}

// parseAddPast reads "YYYY-MM-DD <category> <amount> [currency]".
func (p *Parser) parseAddPast(arg string, cmd *core.Command) error {
	dateStr, rest, _ := strings.Cut(arg, " ")
	if dateStr == "" || strings.TrimSpace(rest) == "" {
		return fmt.Errorf("%w: expected a date and a spending line", ErrMissingArgument)
	}
	d, err := core.ParseDate(dateStr)
	if err != nil {
		return err
	}
	line, ok := p.parseLine(strings.TrimSpace(rest))
	if !ok {
		return fmt.Errorf("%w: %q is not a spending line", core.ErrInvalidAmount, strings.TrimSpace(rest))
	}
	cmd.Date = &d
	cmd.Line = &line
	return nil
}
