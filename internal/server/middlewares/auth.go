package middlewares

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gobox/gobox/internal/boxapi"
	"github.com/gobox/gobox/internal/server/handlers/api"
	"github.com/gobox/gobox/internal/server/users"
)

const ContextUser = "user"

var errMissingCredentials = errors.New("missing basic auth credentials")

// BasicAuth admits active users only. With required false, requests without
// credentials pass through anonymously, but bad credentials are still
// rejected.
func BasicAuth(svc *users.UserService, required bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		username, password, ok := ctx.Request.BasicAuth()
		if !ok {
			if required {
				api.AbortWithError(ctx, http.StatusUnauthorized, boxapi.CodeUnauthorized, errMissingCredentials)
				return
			}
			ctx.Next()
			return
		}

		user, err := svc.Authenticate(ctx.Request.Context(), username, password)
		if err != nil {
			api.AbortWithError(ctx, http.StatusUnauthorized, boxapi.CodeUnauthorized, err)
			return
		}

		ctx.Set(ContextUser, user.Username)
		ctx.Next()
	}
}
