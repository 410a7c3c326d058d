package remote

import (
	"context"
	"fmt"

	"github.com/gobox/gobox/internal/boxapi"
	"github.com/gobox/gobox/internal/client/control"
)

// Dispatch forwards the account commands to the server and returns its JSON
// reply unchanged.
func (r *HTTPRemote) Dispatch(ctx context.Context, cmd control.Command) ([]byte, error) {
	var (
		path string
		body any
	)

	switch cmd.Name {
	case control.CmdRegister:
		var args control.RegisterArgs
		if err := cmd.Decode(&args); err != nil {
			return nil, err
		}
		path = boxapi.PathRegister
		body = &boxapi.RegisterRequest{Username: args.Username, Password: args.Password, Email: args.Email}

	case control.CmdActivate:
		var args control.ActivateArgs
		if err := cmd.Decode(&args); err != nil {
			return nil, err
		}
		path = boxapi.PathActivate
		body = &boxapi.ActivateRequest{Username: args.Username, Code: args.Code}

	default:
		return nil, fmt.Errorf("%w: %q is not a remote command", control.ErrUnknownCommand, cmd.Name)
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetBody(body).
		Post(path)

	if err := handleAPIError(resp, err, string(cmd.Name)); err != nil {
		return nil, err
	}
	return resp.Bytes(), nil
}
