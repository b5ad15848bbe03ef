package protocol

import (
	"fmt"
	"strings"
)

// Command represents a Redis command parsed from a RESP array
type Command struct {
	Name string
	Args [][]byte
}

// NewCommand builds the request value for name and args
func NewCommand(name string, args ...string) Value {
	elems := make([]Value, 0, 1+len(args))
	elems = append(elems, BulkString(name))
	for _, arg := range args {
		elems = append(elems, BulkString(arg))
	}
	return Array(elems...)
}

// ParseCommand parses a RESP array value into a Command. Elements may be
// bulk or simple strings; the name is upper-cased.
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || v.IsNull || len(v.Array) == 0 {
		return nil, fmt.Errorf("invalid command format: expected non-empty array, got %s", v.Type)
	}

	cmd := &Command{
		Args: make([][]byte, len(v.Array)-1),
	}

	for i, elem := range v.Array {
		if (elem.Type != TypeBulkString && elem.Type != TypeSimpleString) || elem.IsNull {
			return nil, fmt.Errorf("command element %d must be a string, got %s", i, elem.Type)
		}
		if i == 0 {
			cmd.Name = strings.ToUpper(string(elem.Data))
			continue
		}
		cmd.Args[i-1] = elem.Data
	}

	return cmd, nil
}

// Arg returns argument i as a string, or "" when absent
func (c *Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return string(c.Args[i])
}

// String returns a string representation of the command
func (c *Command) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	return strings.TrimSpace(c.Name + " " + strings.Join(args, " "))
}
