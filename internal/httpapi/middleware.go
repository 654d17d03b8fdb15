package httpapi

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/identity"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

// authenticate resolves the bearer token into the request's user. Browsers
// cannot set headers on WebSocket upgrades, so allowQuery also accepts ?token=.
func (h *Handler) authenticate(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := identity.BearerToken(c.GetHeader("Authorization"))
		if token == "" && allowQuery {
			token = c.Query("token")
		}
		if token == "" || h.auth == nil {
			h.fail(c, messenger.ErrUnauthenticated)
			return
		}
		user, err := h.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, messenger.ErrUnauthenticated) {
				err = errors.Join(messenger.ErrStoreUnavailable, err)
			}
			h.fail(c, err)
			return
		}
		c.Request = c.Request.WithContext(identity.WithUser(c.Request.Context(), user))
		c.Next()
	}
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func zapRequest(c *gin.Context, err error) []zap.Field {
	return []zap.Field{
		zap.Error(err),
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
	}
}
