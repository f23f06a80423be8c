package api

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kupochain/indexer/internal/apierror"
	"github.com/kupochain/indexer/internal/logging"
)

// adminAuthMiddleware validates bearer tokens on the mutating control
// plane routes (PUT/DELETE patterns, DELETE matches). If
// KUPOCHAIN_ADMIN_TOKEN is unset, every request is allowed — the
// indexer is expected to run behind a trusted network boundary by
// default, the same posture the teacher's dev-mode auth takes.
func adminAuthMiddleware() gin.HandlerFunc {
	token := os.Getenv("KUPOCHAIN_ADMIN_TOKEN")
	if token == "" {
		logging.Warn("KUPOCHAIN_ADMIN_TOKEN is not set; pattern and match mutation routes are unauthenticated")
	}

	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.Envelope{Hint: "missing or malformed Authorization header"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, apierror.Envelope{Hint: "invalid admin token"})
			return
		}

		c.Next()
	}
}
