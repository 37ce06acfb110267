package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/service"
)

// Response 统一响应结构
type Response struct {
	Code int         `json:"code"`           // 业务状态码
	Msg  string      `json:"msg"`            // 中文提示信息
	Data interface{} `json:"data,omitempty"` // 数据载荷
}

// 业务状态码定义
const (
	CodeSuccess = 200 // 成功
	CodeCreated = 201 // 创建成功

	CodeBadRequest    = 400 // 请求参数错误
	CodeUnauthorized  = 401 // 未认证
	CodeNotFound      = 404 // 资源不存在
	CodeConflict      = 409 // 资源冲突
	CodeTooMany       = 429 // 频率超限
	CodeInternalError = 500 // 服务器内部错误
	CodeUpstreamError = 502 // 上游邮件服务不可用
)

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: CodeSuccess,
		Msg:  "成功",
		Data: data,
	})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code: CodeCreated,
		Msg:  "创建成功",
		Data: data,
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		Code: CodeBadRequest,
		Msg:  msg,
	})
}

// NotFound 资源不存在错误（404）
func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, Response{
		Code: CodeNotFound,
		Msg:  msg,
	})
}

// Conflict 资源冲突错误（409）
func Conflict(c *gin.Context, msg string) {
	c.JSON(http.StatusConflict, Response{
		Code: CodeConflict,
		Msg:  msg,
	})
}

// FromError 将内部错误翻译成固定集合内的用户可见响应。
//
// 未识别的错误一律映射为通用失败，绝不把原始内部错误回给调用方。
func FromError(c *gin.Context, err error) {
	var alreadyActive *service.AlreadyActiveError
	var validationErr error

	switch {
	case errors.As(err, &alreadyActive):
		c.JSON(http.StatusConflict, Response{
			Code: CodeConflict,
			Msg:  "你已有一个有效邮箱，请先删除后再创建",
			Data: gin.H{"address": alreadyActive.Address},
		})
	case errors.Is(err, service.ErrGenerationExhausted):
		c.JSON(http.StatusConflict, Response{
			Code: CodeConflict,
			Msg:  "地址生成失败，请重试",
		})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, Response{
			Code: CodeTooMany,
			Msg:  "创建太频繁，请稍后再试",
		})
	case errors.Is(err, service.ErrNoActiveMailbox):
		c.JSON(http.StatusNotFound, Response{
			Code: CodeNotFound,
			Msg:  "当前没有有效邮箱，请先创建一个",
		})
	case errors.Is(err, service.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, Response{
			Code: CodeNotFound,
			Msg:  "邮件不存在或已失效，请刷新收件箱",
		})
	case errors.Is(err, service.ErrAttachmentNotFound):
		c.JSON(http.StatusNotFound, Response{
			Code: CodeNotFound,
			Msg:  "附件不存在",
		})
	case errors.Is(err, service.ErrAttachmentUnavailable):
		c.JSON(http.StatusUnprocessableEntity, Response{
			Code: CodeBadRequest,
			Msg:  "附件暂时无法下载",
		})
	case isValidationError(err, &validationErr):
		c.JSON(http.StatusBadRequest, Response{
			Code: CodeBadRequest,
			Msg:  "前缀不合法：" + validationErr.Error(),
		})
	default:
		// 连接类与未知错误：提示重试，不暴露内部细节
		c.JSON(http.StatusBadGateway, Response{
			Code: CodeUpstreamError,
			Msg:  "服务暂时不可用，请稍后重试",
		})
	}
}

func isValidationError(err error, out *error) bool {
	for _, v := range []error{
		domain.ErrPrefixEmpty,
		domain.ErrPrefixTooShort,
		domain.ErrPrefixTooLong,
		domain.ErrPrefixInvalid,
	} {
		if errors.Is(err, v) {
			*out = v
			return true
		}
	}
	return false
}
