package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gobox/gobox/internal/boxapi"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
)

// RateLimiter limits requests per client IP, e.g. "20-M" for twenty a minute.
// Every call gets its own store. The rate must already be validated.
func RateLimiter(formattedRate string) gin.HandlerFunc {
	rate, err := limiter.NewRateFromFormatted(formattedRate)
	if err != nil {
		panic(err)
	}

	store := memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "gobox_users",
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	})
	return mgin.NewMiddleware(
		limiter.New(store, rate, limiter.WithTrustForwardHeader(false)),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.PureJSON(http.StatusTooManyRequests, boxapi.NewAPIError(boxapi.CodeRateLimited, "rate limit exceeded"))
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			c.PureJSON(http.StatusInternalServerError, boxapi.NewAPIError(boxapi.CodeInternalError, err.Error()))
		}),
	)
}
