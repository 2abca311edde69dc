// Package control turns one line of control text into one lifecycle call and one Result.
package control

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-procsup/pkg/errors"

	"github.com/mattn/go-shellwords"
)

type Verb string

const (
	VerbStart    Verb = "start"
	VerbStop     Verb = "stop"
	VerbStatus   Verb = "status"
	VerbShutdown Verb = "shutdown"
)

// AllProcessesTarget is the status target that selects every configured process
const AllProcessesTarget = "processes"

// Command is one parsed control request
type Command struct {
	Verb      Verb
	Target    string
	Overrides map[string]string
}

// ParseCommand tokenizes line with shell quoting rules and validates it against the grammar:
//
//	start <name> [--key value | --flag]...
//	stop <name>
//	status <name> | status processes
//	shutdown
func ParseCommand(line string) (Command, error) {
	parser := shellwords.NewParser()
	tokens, err := parser.Parse(line)
	if err != nil {
		return Command{}, errors.NewProtocolError("malformed command", err)
	}
	// the tokenizer stops at unquoted shell operators, a command must be consumed whole
	if parser.Position >= 0 {
		return Command{}, errors.NewProtocolError("unexpected shell operator", nil).
			WithContext("position", parser.Position)
	}
	if len(tokens) == 0 {
		return Command{}, errors.NewProtocolError("empty command", nil)
	}

	verb := Verb(strings.ToLower(tokens[0]))
	args := tokens[1:]

	switch verb {
	case VerbStart:
		if len(args) == 0 {
			return Command{}, missingTarget(verb)
		}
		overrides, err := ParseOverrides(args[1:])
		if err != nil {
			return Command{}, err
		}
		return Command{Verb: verb, Target: args[0], Overrides: overrides}, nil

	case VerbStop, VerbStatus:
		if len(args) == 0 {
			return Command{}, missingTarget(verb)
		}
		if len(args) > 1 {
			return Command{}, unexpectedArgument(verb, args[1])
		}
		target := args[0]
		if verb == VerbStatus && strings.EqualFold(target, AllProcessesTarget) {
			target = AllProcessesTarget
		}
		return Command{Verb: verb, Target: target}, nil

	case VerbShutdown:
		if len(args) > 0 {
			return Command{}, unexpectedArgument(verb, args[0])
		}
		return Command{Verb: verb}, nil

	default:
		return Command{}, errors.NewProtocolError(fmt.Sprintf("unknown command: %s", tokens[0]), nil)
	}
}

// ParseOverrides reads "--key value" pairs. A key followed by another key, or by nothing,
// gets an empty value.
func ParseOverrides(tokens []string) (map[string]string, error) {
	overrides := make(map[string]string)
	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		if !strings.HasPrefix(token, "--") {
			return nil, errors.NewProtocolError(fmt.Sprintf("unexpected argument: %s", token), nil)
		}
		key := strings.TrimPrefix(token, "--")
		if key == "" {
			return nil, errors.NewProtocolError("empty argument name", nil)
		}

		value := ""
		if i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "--") {
			value = tokens[i+1]
			i++
		}
		overrides[key] = value
	}
	return overrides, nil
}

func missingTarget(verb Verb) error {
	return errors.NewProtocolError(fmt.Sprintf("%s: missing process name", verb), nil)
}

func unexpectedArgument(verb Verb, arg string) error {
	return errors.NewProtocolError(fmt.Sprintf("%s: unexpected argument: %s", verb, arg), nil)
}

// FormatCommand joins words into one command line that ParseCommand splits back into the same words
func FormatCommand(words []string) string {
	quoted := make([]string, 0, len(words))
	for _, word := range words {
		quoted = append(quoted, quoteWord(word))
	}
	return strings.Join(quoted, " ")
}

func quoteWord(word string) string {
	if word == "" {
		return "''"
	}
	if !strings.ContainsAny(word, " \t\r\n'\"\\`$;&|<>()#") {
		return word
	}
	if !strings.Contains(word, "'") {
		return "'" + word + "'"
	}
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + replacer.Replace(word) + `"`
}
