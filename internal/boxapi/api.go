// Package boxapi holds the HTTP wire contract shared by the sync client and
// the development server.
package boxapi

import "fmt"

const (
	PathTimestamp = "/api/v1/timestamp"
	PathListing   = "/api/v1/listing"
	PathFiles     = "/api/v1/files"
	PathRegister  = "/api/v1/users/register"
	PathActivate  = "/api/v1/users/activate"
	PathEvents    = "/api/v1/events"
)

const (
	HeaderUserAgent = "User-Agent"
	HeaderVersion   = "X-Box-Version"
	HeaderTimestamp = "X-Box-Timestamp"
	HeaderHash      = "X-Box-Hash"
)

const (
	CodeInvalidRequest  = "E_INVALID_REQUEST"
	CodeInternalError   = "E_INTERNAL_ERROR"
	CodeUnauthorized    = "E_UNAUTHORIZED"
	CodeRateLimited     = "E_RATE_LIMITED"
	CodeFileNotFound    = "E_FILE_NOT_FOUND"
	CodeFileExists      = "E_FILE_EXISTS"
	CodeUserExists      = "E_USER_EXISTS"
	CodeUserNotFound    = "E_USER_NOT_FOUND"
	CodeInvalidCode     = "E_INVALID_ACTIVATION_CODE"
	CodeUserNotVerified = "E_USER_NOT_ACTIVE"
)

// FilePath is the route for a single file.
func FilePath(path string) string {
	return PathFiles + "/" + path
}

type TimestampResponse struct {
	Timestamp int64 `json:"timestamp"`
}

type FileEntry struct {
	Timestamp int64  `json:"timestamp"`
	Hash      string `json:"hash"`
}

type ListingResponse struct {
	Timestamp int64                `json:"timestamp"`
	Files     map[string]FileEntry `json:"files"`
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
}

type ActivateRequest struct {
	Username string `json:"username" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

type UserResponse struct {
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

// ChangeEvent is pushed over the events websocket after every mutation.
type ChangeEvent struct {
	Timestamp int64  `json:"timestamp"`
	Path      string `json:"path,omitempty"`
}

// APIError is the body of every non 2xx response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}
