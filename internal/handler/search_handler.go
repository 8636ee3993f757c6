package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"mind-namo-go/internal/service"
	"mind-namo-go/pkg/log"
)

// SearchHandler 结构体定义了会话内消息搜索的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// SearchMessages 在一个会话中搜索文本消息。
func (h *SearchHandler) SearchMessages(c *gin.Context) {
	actor, exists := party(c)
	if !exists {
		return
	}
	query := c.Query("q")
	if query == "" {
		log.Warnf("[SearchHandler] 搜索请求失败: q 参数为空")
		badRequest(c, "无效的查询参数")
		return
	}
	topK, err := strconv.Atoi(c.DefaultQuery("topK", "20"))
	if err != nil || topK <= 0 {
		topK = 20
	}

	results, err := h.searchService.SearchMessages(c.Request.Context(), actor, c.Param("id"), query, topK)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, results)
}
