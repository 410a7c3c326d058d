package control

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// CommandName is the closed set of commands the daemon accepts.
type CommandName string

const (
	CmdShutdown CommandName = "shutdown"
	CmdSync     CommandName = "sync"
	CmdStatus   CommandName = "status"
	CmdRegister CommandName = "register"
	CmdActivate CommandName = "activate"
)

var (
	ErrInvalidCommand = errors.New("command must be an object with exactly one key")
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidArgs    = errors.New("invalid command arguments")
)

var knownCommands = map[CommandName]func(json.RawMessage) error{
	CmdShutdown: noArgs,
	CmdSync:     noArgs,
	CmdStatus:   noArgs,
	CmdRegister: validate[RegisterArgs],
	CmdActivate: validate[ActivateArgs],
}

type RegisterArgs struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

func (a RegisterArgs) Validate() error {
	if a.Username == "" || a.Password == "" || a.Email == "" {
		return fmt.Errorf("%w: username, password and email are required", ErrInvalidArgs)
	}
	return nil
}

type ActivateArgs struct {
	Username string `json:"username"`
	Code     string `json:"code"`
}

func (a ActivateArgs) Validate() error {
	if a.Username == "" || a.Code == "" {
		return fmt.Errorf("%w: username and code are required", ErrInvalidArgs)
	}
	return nil
}

// Command is one parsed control request.
type Command struct {
	Name CommandName
	// Args is the raw JSON argument object, "{}" when the command has none.
	Args json.RawMessage
}

// NewCommand builds a command with the given arguments, which may be nil.
func NewCommand(name CommandName, args any) (Command, error) {
	raw := json.RawMessage("{}")
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return Command{}, fmt.Errorf("marshal %s args: %w", name, err)
		}
		raw = b
	}
	cmd := Command{Name: name, Args: raw}
	if err := cmd.validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// ParseCommand decodes a frame payload of the form {"<name>": {...}}.
func ParseCommand(payload []byte) (Command, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if len(obj) != 1 {
		return Command{}, ErrInvalidCommand
	}

	var cmd Command
	for name, args := range obj {
		cmd = Command{Name: CommandName(name), Args: args}
	}
	if len(bytes.TrimSpace(cmd.Args)) == 0 || bytes.Equal(bytes.TrimSpace(cmd.Args), []byte("null")) {
		cmd.Args = json.RawMessage("{}")
	}

	if err := cmd.validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func (c Command) validate() error {
	check, ok := knownCommands[c.Name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Name)
	}
	return check(c.Args)
}

// Remote reports whether the command is forwarded to the remote service.
func (c Command) Remote() bool {
	return c.Name == CmdRegister || c.Name == CmdActivate
}

// Decode unmarshals the arguments into v.
func (c Command) Decode(v any) error {
	if err := json.Unmarshal(c.Args, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

func (c Command) MarshalJSON() ([]byte, error) {
	args := c.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return json.Marshal(map[CommandName]json.RawMessage{c.Name: args})
}

func (c Command) String() string {
	return string(c.Name)
}

// Response is the reply to every command.
type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func OK(data any) Response {
	if data == nil {
		return Response{OK: true}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Error(fmt.Errorf("marshal response: %w", err))
	}
	return Response{OK: true, Data: b}
}

func Error(err error) Response {
	return Response{OK: false, Error: err.Error()}
}

func (r Response) Err() error {
	if r.OK {
		return nil
	}
	return errors.New(r.Error)
}

func noArgs(args json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(args, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

type validator interface {
	Validate() error
}

func validate[T validator](args json.RawMessage) error {
	var v T
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return v.Validate()
}
