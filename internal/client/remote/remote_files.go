package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/gobox/gobox/internal/boxapi"
	boxsync "github.com/gobox/gobox/internal/client/sync"
	"github.com/imroc/req/v3"
)

const contentTypeBinary = "application/octet-stream"

func (r *HTTPRemote) GetGlobalTimestamp(ctx context.Context) (boxsync.Timestamp, error) {
	var apiResp boxapi.TimestampResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(boxapi.PathTimestamp)

	if err := handleAPIError(resp, err, "get timestamp"); err != nil {
		return 0, err
	}
	return boxsync.Timestamp(apiResp.Timestamp), nil
}

func (r *HTTPRemote) GetListing(ctx context.Context) (boxsync.Snapshot, boxsync.Timestamp, error) {
	var apiResp boxapi.ListingResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(boxapi.PathListing)

	if err := handleAPIError(resp, err, "get listing"); err != nil {
		return nil, 0, err
	}

	snapshot := make(boxsync.Snapshot, len(apiResp.Files))
	for path, entry := range apiResp.Files {
		snapshot[path] = boxsync.Fingerprint{
			ModifiedAt:  boxsync.Timestamp(entry.Timestamp),
			ContentHash: entry.Hash,
		}
	}
	return snapshot, boxsync.Timestamp(apiResp.Timestamp), nil
}

// Upload creates path on the server. It fails with ErrRemoteExists if the
// path is taken.
func (r *HTTPRemote) Upload(ctx context.Context, path string, content io.Reader) (boxsync.Timestamp, error) {
	return r.write(ctx, "upload", path, content, false)
}

// Modify replaces path on the server. It fails with ErrRemoteNotFound if the
// path is missing.
func (r *HTTPRemote) Modify(ctx context.Context, path string, content io.Reader) (boxsync.Timestamp, error) {
	return r.write(ctx, "modify", path, content, true)
}

func (r *HTTPRemote) write(ctx context.Context, op, path string, content io.Reader, replace bool) (boxsync.Timestamp, error) {
	var apiResp boxapi.TimestampResponse
	request := r.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetContentType(contentTypeBinary).
		SetBody(content).
		SetSuccessResult(&apiResp)

	var (
		resp *req.Response
		err  error
	)
	if replace {
		resp, err = request.Put(filePath(path))
	} else {
		resp, err = request.Post(filePath(path))
	}

	if err := handleAPIError(resp, err, fmt.Sprintf("%s %s", op, path)); err != nil {
		return 0, err
	}
	return boxsync.Timestamp(apiResp.Timestamp), nil
}

// Download returns the content of path and the fingerprint the server holds
// for it.
func (r *HTTPRemote) Download(ctx context.Context, path string) (io.ReadCloser, boxsync.Fingerprint, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		Get(filePath(path))

	if err := handleAPIError(resp, err, "download "+path); err != nil {
		return nil, boxsync.Fingerprint{}, err
	}

	fp := boxsync.Fingerprint{ContentHash: resp.GetHeader(boxapi.HeaderHash)}
	if ts := resp.GetHeader(boxapi.HeaderTimestamp); ts != "" {
		n, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, boxsync.Fingerprint{}, fmt.Errorf("download %s: bad %s header %q", path, boxapi.HeaderTimestamp, ts)
		}
		fp.ModifiedAt = boxsync.Timestamp(n)
	}

	return io.NopCloser(bytes.NewReader(resp.Bytes())), fp, nil
}

func (r *HTTPRemote) Delete(ctx context.Context, path string) (boxsync.Timestamp, error) {
	var apiResp boxapi.TimestampResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Delete(filePath(path))

	if err := handleAPIError(resp, err, "delete "+path); err != nil {
		return 0, err
	}
	return boxsync.Timestamp(apiResp.Timestamp), nil
}
