package files

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gobox/gobox/internal/boxapi"
	"github.com/gobox/gobox/internal/server/blob"
	"github.com/gobox/gobox/internal/server/handlers/api"
)

// maxUploadSize caps request bodies of uploads and modifications.
const maxUploadSize = 256 << 20

type FilesHandler struct {
	blob *blob.BlobService
}

func New(blob *blob.BlobService) *FilesHandler {
	return &FilesHandler{blob: blob}
}

func (h *FilesHandler) Timestamp(ctx *gin.Context) {
	ts, err := h.blob.Index().Timestamp(ctx.Request.Context())
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, boxapi.CodeInternalError, err)
		return
	}
	ctx.PureJSON(http.StatusOK, &boxapi.TimestampResponse{Timestamp: ts})
}

func (h *FilesHandler) List(ctx *gin.Context) {
	files, ts, err := h.blob.Index().List(ctx.Request.Context())
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, boxapi.CodeInternalError, err)
		return
	}

	resp := &boxapi.ListingResponse{
		Timestamp: ts,
		Files:     make(map[string]boxapi.FileEntry, len(files)),
	}
	for _, f := range files {
		resp.Files[f.Key] = boxapi.FileEntry{Timestamp: f.Timestamp, Hash: f.Hash}
	}
	ctx.PureJSON(http.StatusOK, resp)
}

func (h *FilesHandler) Download(ctx *gin.Context) {
	info, rc, err := h.blob.Open(ctx.Request.Context(), ctx.Param("path"))
	if err != nil {
		abortWithBlobError(ctx, err)
		return
	}
	defer rc.Close()

	ctx.Header(boxapi.HeaderTimestamp, strconv.FormatInt(info.Timestamp, 10))
	ctx.Header(boxapi.HeaderHash, info.Hash)
	ctx.DataFromReader(http.StatusOK, info.Size, "application/octet-stream", rc, nil)
}

func (h *FilesHandler) Upload(ctx *gin.Context) {
	h.write(ctx, h.blob.Create, http.StatusCreated)
}

func (h *FilesHandler) Modify(ctx *gin.Context) {
	h.write(ctx, h.blob.Modify, http.StatusOK)
}

type writeFunc func(ctx context.Context, key string, r io.Reader) (*blob.FileInfo, error)

func (h *FilesHandler) write(ctx *gin.Context, fn writeFunc, status int) {
	body := http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxUploadSize)
	info, err := fn(ctx.Request.Context(), ctx.Param("path"), body)
	if err != nil {
		abortWithBlobError(ctx, err)
		return
	}
	ctx.PureJSON(status, &boxapi.TimestampResponse{Timestamp: info.Timestamp})
}

func (h *FilesHandler) Delete(ctx *gin.Context) {
	ts, err := h.blob.Delete(ctx.Request.Context(), ctx.Param("path"))
	if err != nil {
		abortWithBlobError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, &boxapi.TimestampResponse{Timestamp: ts})
}

func abortWithBlobError(ctx *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, boxapi.CodeInvalidRequest, err)
	case errors.Is(err, blob.ErrInvalidKey):
		api.AbortWithError(ctx, http.StatusBadRequest, boxapi.CodeInvalidRequest, err)
	case errors.Is(err, blob.ErrFileNotFound):
		api.AbortWithError(ctx, http.StatusNotFound, boxapi.CodeFileNotFound, err)
	case errors.Is(err, blob.ErrFileExists):
		api.AbortWithError(ctx, http.StatusConflict, boxapi.CodeFileExists, err)
	default:
		api.AbortWithError(ctx, http.StatusInternalServerError, boxapi.CodeInternalError, err)
	}
}
