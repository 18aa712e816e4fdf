// Package middleware holds gin middlewares shared by the API handlers.
package middleware

import (
	"net/http"
	"strconv"

	"github.com/LambdaTest/janitor/pkg/constants"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/gin-gonic/gin"
)

// Context keys set by HandlePage.
const (
	LimitKey  = "limit"
	OffsetKey = "offset"
)

var strDefaultPageLimit = strconv.Itoa(constants.DefaultPageLimit)

// HandlePage sets the limit and offset of paginated apis from the query.
func HandlePage() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.ParseInt(c.DefaultQuery(LimitKey, strDefaultPageLimit), constants.Base10, constants.BitSize32)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, errs.ErrInvalidPerPage)
			return
		}
		offset, err := strconv.ParseInt(c.DefaultQuery(OffsetKey, "0"), constants.Base10, constants.BitSize32)
		if err != nil || offset < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, errs.InvalidQueryErr(OffsetKey))
			return
		}
		if limit < 1 {
			limit = constants.DefaultPageLimit
		}
		if limit > constants.MaxPageLimit {
			limit = constants.MaxPageLimit
		}
		c.Set(LimitKey, int(limit))
		c.Set(OffsetKey, int(offset))
		c.Next()
	}
}
