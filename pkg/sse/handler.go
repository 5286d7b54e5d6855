package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"B2P/task"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServeSSE streams status updates for one task: GET /events?task=<name>.
// Each message is a JSON task status sent as "data: <json>". The stream ends
// after a completed or failed status.
func (h *Hub) ServeSSE(c *gin.Context) {
	topic := c.Query("task")
	if topic == "" {
		c.String(http.StatusBadRequest, "missing task")
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	msgCh := make(chan []byte, 16)
	h.Subscribe(msgCh, topic)
	defer h.Unsubscribe(msgCh, topic)
	zap.L().Debug("sse client connected", zap.String("task", topic), zap.Int("subscribers", h.Subscribers(topic)))

	notify := c.Request.Context().Done()
	// 先发一行注释, 防止部分代理缓冲
	fmt.Fprintf(c.Writer, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-notify:
			return
		case <-h.done:
			return
		case msg := <-msgCh:
			fmt.Fprintf(c.Writer, "data: %s\n\n", msg)
			zap.L().Debug("sent sse message", zap.String("task", topic), zap.Int("bytes", len(msg)))
			flusher.Flush()

			// 任务结束后关闭连接, 客户端不用自己判断
			var st task.Status
			if err := json.Unmarshal(msg, &st); err == nil && st.Terminal() {
				return
			}
		}
	}
}
