package middlewares

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// GZIP compresses JSON replies. File bodies are served as stored.
func GZIP() gin.HandlerFunc {
	return gzip.Gzip(gzip.BestSpeed)
}
