package httpapi

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/loqalabs/loqa-podcast/internal/faults"
)

// abortWithError writes the structured error body for err.
func abortWithError(c *gin.Context, err error) {
	status := faults.HTTPStatus(err)
	body := gin.H{
		"kind":    faults.Kind(err),
		"message": err.Error(),
		"status":  status,
	}
	var (
		up   *faults.UpstreamError
		tool *faults.ToolError
		val  *faults.ValidationError
	)
	switch {
	case errors.As(err, &val):
		body["field"] = val.Field
		body["reason"] = val.Reason
	case errors.As(err, &up):
		body["provider"] = up.Provider
		body["upstreamStatus"] = up.Status
		body["upstreamBody"] = up.Body
	case errors.As(err, &tool):
		body["tool"] = tool.Tool
		body["exitCode"] = tool.ExitCode
		body["stderr"] = tool.Stderr
	}
	if rid, ok := c.Get(requestIDKey); ok {
		body["requestId"] = rid
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abortWithError(c, faults.Invalid("body", "%v", err))
		return false
	}
	return true
}
