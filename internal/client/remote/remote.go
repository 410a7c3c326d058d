// Package remote is the HTTP implementation of the sync RemoteService,
// talking to the gobox server API.
package remote

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/gobox/gobox/internal/boxapi"
	boxsync "github.com/gobox/gobox/internal/client/sync"
	"github.com/gobox/gobox/internal/version"
	"github.com/imroc/req/v3"
)

const (
	requestTimeout = 60 * time.Second
	retryInterval  = time.Second
)

var UserAgent = fmt.Sprintf("gobox/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

type Config struct {
	ServerURL string
	Username  string
	Password  string
	// RetryCount applies to idempotent requests only. Uploads are never
	// retried since their body is consumed.
	RetryCount int
}

// HTTPRemote is a RemoteService backed by the gobox server.
type HTTPRemote struct {
	client  *req.Client
	baseURL string
	config  Config
	events  *eventsFeed
}

var (
	_ boxsync.RemoteService  = (*HTTPRemote)(nil)
	_ boxsync.ChangeNotifier = (*HTTPRemote)(nil)
)

func New(config Config) (*HTTPRemote, error) {
	if config.ServerURL == "" {
		return nil, ErrNoServerURL
	}
	u, err := url.Parse(config.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: invalid server url %q", config.ServerURL)
	}
	if config.RetryCount == 0 {
		config.RetryCount = 3
	}

	baseURL := strings.TrimSuffix(config.ServerURL, "/")
	client := req.C().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetCommonRetryCount(config.RetryCount).
		SetCommonRetryFixedInterval(retryInterval).
		SetUserAgent(UserAgent).
		SetCommonHeader(boxapi.HeaderVersion, version.Version).
		SetCommonErrorResult(&boxapi.APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if config.Username != "" {
		client.SetCommonBasicAuth(config.Username, config.Password)
	}

	r := &HTTPRemote{
		client:  client,
		baseURL: baseURL,
		config:  config,
	}
	r.events = newEventsFeed(r.eventsURL(), r.authHeader())
	return r, nil
}

func (r *HTTPRemote) BaseURL() string {
	return r.baseURL
}

// filePath escapes every segment of a snapshot key.
func filePath(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return boxapi.FilePath(strings.Join(segments, "/"))
}
