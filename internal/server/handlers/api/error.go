package api

import (
	"github.com/gin-gonic/gin"
	"github.com/gobox/gobox/internal/boxapi"
)

// AbortWithError records err on the context and replies with the API error body.
func AbortWithError(ctx *gin.Context, status int, code string, err error) {
	ctx.Abort()
	ctx.Error(err)
	ctx.PureJSON(status, boxapi.NewAPIError(code, err.Error()))
}
