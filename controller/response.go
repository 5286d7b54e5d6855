package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	MsgInvalidJSON        = "Invalid JSON data"
	MsgInvalidSecret      = "invalid secret"
	MsgTaskNotFound       = "task not found"
	MsgSubmissionNotFound = "submission not found"
	MsgServerBusy         = "server busy, try again later"
)

// ResponseDetail writes the {"detail": ...} error body used by every
// endpoint.
func ResponseDetail(c *gin.Context, code int, detail string) {
	c.JSON(code, gin.H{"detail": detail})
}

func ResponseBadRequest(c *gin.Context, detail string) {
	ResponseDetail(c, http.StatusBadRequest, detail)
}

func ResponseSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}
