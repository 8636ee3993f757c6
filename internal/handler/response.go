// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"mind-namo-go/internal/middleware"
	"mind-namo-go/internal/model"
	"mind-namo-go/internal/service"
	"mind-namo-go/pkg/log"
)

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

// fail 把业务层错误映射为 HTTP 响应，内部错误不向客户端暴露细节。
func fail(c *gin.Context, err error) {
	status := service.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Errorf("[Handler] %s %s 失败: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"code": status, "message": service.ErrorMessage(err), "data": nil})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message, "data": nil})
}

// party 取出当前参与方，缺失时直接写入 500 响应。
func party(c *gin.Context) (model.Party, bool) {
	p, exists := middleware.CurrentParty(c)
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取参与方信息", "data": nil})
	}
	return p, exists
}
