package tui

import (
	"fmt"
	"strings"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/model"
)

// Command represents a parsed ":" command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// OpenArgs are the arguments of ":open <user> [listing:<id>|flatmate:<id>]".
type OpenArgs struct {
	Peer    string
	Context messenger.ThreadContext
}

// ParseOpen reads the arguments of the open command. The context is only
// needed when the pair has no thread yet.
func ParseOpen(args string) (OpenArgs, error) {
	fields := strings.Fields(args)
	switch len(fields) {
	case 1:
		return OpenArgs{Peer: fields[0]}, nil
	case 2:
		tc, err := model.ParseContext(fields[1])
		if err != nil {
			return OpenArgs{}, err
		}
		return OpenArgs{Peer: fields[0], Context: tc}, nil
	default:
		return OpenArgs{}, fmt.Errorf("usage: open <user> [listing:<id>|flatmate:<id>]")
	}
}
