package remote

import (
	"errors"
	"fmt"

	"github.com/gobox/gobox/internal/boxapi"
	boxsync "github.com/gobox/gobox/internal/client/sync"
	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL  = errors.New("remote: server url missing")
	ErrUnauthorized = errors.New("remote: unauthorized")
)

// handleAPIError turns a failed request or an error reply into an error.
// File codes map onto the sync package sentinels.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	// got a response, but api returned an error
	if resp.IsErrorState() {
		apiErr, ok := resp.ErrorResult().(*boxapi.APIError)
		if !ok || apiErr.Code == "" {
			return fmt.Errorf("api error: %s status %d", operation, resp.StatusCode)
		}

		switch apiErr.Code {
		case boxapi.CodeFileNotFound:
			return fmt.Errorf("%s: %w: %w", operation, boxsync.ErrRemoteNotFound, apiErr)
		case boxapi.CodeFileExists:
			return fmt.Errorf("%s: %w: %w", operation, boxsync.ErrRemoteExists, apiErr)
		case boxapi.CodeUnauthorized:
			return fmt.Errorf("%s: %w: %w", operation, ErrUnauthorized, apiErr)
		}
		return fmt.Errorf("%s %w", operation, apiErr)
	}

	return nil
}
