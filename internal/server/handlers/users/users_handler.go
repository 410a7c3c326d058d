package users

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gobox/gobox/internal/boxapi"
	"github.com/gobox/gobox/internal/server/handlers/api"
	"github.com/gobox/gobox/internal/server/users"
	"github.com/gobox/gobox/internal/utils"
)

type UsersHandler struct {
	users *users.UserService
}

func New(users *users.UserService) *UsersHandler {
	return &UsersHandler{users: users}
}

func (h *UsersHandler) Register(ctx *gin.Context) {
	var req boxapi.RegisterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, boxapi.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	if _, err := h.users.Register(ctx.Request.Context(), req.Username, req.Password, req.Email); err != nil {
		switch {
		case errors.Is(err, users.ErrUserExists):
			api.AbortWithError(ctx, http.StatusConflict, boxapi.CodeUserExists, err)
		case errors.Is(err, users.ErrInvalidCredentials),
			errors.Is(err, utils.ErrEmailEmpty),
			errors.Is(err, utils.ErrEmailInvalid):
			api.AbortWithError(ctx, http.StatusBadRequest, boxapi.CodeInvalidRequest, err)
		default:
			api.AbortWithError(ctx, http.StatusInternalServerError, boxapi.CodeInternalError, err)
		}
		return
	}

	ctx.PureJSON(http.StatusCreated, &boxapi.UserResponse{Username: req.Username})
}

func (h *UsersHandler) Activate(ctx *gin.Context) {
	var req boxapi.ActivateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, boxapi.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	user, err := h.users.Activate(ctx.Request.Context(), req.Username, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrUserNotFound):
			api.AbortWithError(ctx, http.StatusNotFound, boxapi.CodeUserNotFound, err)
		case errors.Is(err, users.ErrInvalidCode):
			api.AbortWithError(ctx, http.StatusBadRequest, boxapi.CodeInvalidCode, err)
		default:
			api.AbortWithError(ctx, http.StatusInternalServerError, boxapi.CodeInternalError, err)
		}
		return
	}

	ctx.PureJSON(http.StatusOK, &boxapi.UserResponse{Username: user.Username, Active: user.Active})
}
