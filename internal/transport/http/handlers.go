package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/monitoring"
	"tempmailbot/backend/internal/poller"
	"tempmailbot/backend/internal/service"
)

// Handler 聚合 HTTP 层依赖的业务服务。
type Handler struct {
	registry *service.RegistryService
	inbox    *service.InboxService
	poller   *poller.Poller
	sweeper  *poller.Sweeper
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewHandler 创建 HTTP 处理器。metrics 可以为 nil。
func NewHandler(registry *service.RegistryService, inbox *service.InboxService, p *poller.Poller, sw *poller.Sweeper, metrics *monitoring.Metrics, log *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		inbox:    inbox,
		poller:   p,
		sweeper:  sw,
		metrics:  metrics,
		log:      log,
	}
}

// createAddressRequest 创建临时地址请求体
type createAddressRequest struct {
	Identity string `json:"identity" binding:"required"`
	Prefix   string `json:"prefix"`
}

// CreateAddress 为调用方分配一个新的临时邮箱地址。
func (h *Handler) CreateAddress(c *gin.Context) {
	var req createAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误：identity 不能为空")
		return
	}
	// 自定义前缀同步校验，失败时带具体原因拒绝
	if req.Prefix != "" {
		if err := domain.ValidatePrefix(req.Prefix); err != nil {
			FromError(c, err)
			return
		}
	}

	mb, err := h.registry.Provision(req.Identity, req.Prefix)
	if err != nil {
		h.log.Warn("provision failed",
			zap.String("identity", req.Identity),
			zap.Error(err))
		FromError(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.MailboxesCreated.Inc()
	}
	Created(c, mb)
}

// GetAddress 查询调用方当前的有效邮箱。
func (h *Handler) GetAddress(c *gin.Context) {
	mb, err := h.registry.Get(c.Param("identity"))
	if err != nil {
		FromError(c, err)
		return
	}
	Success(c, mb)
}

// DeleteAddress 删除调用方当前的有效邮箱。
func (h *Handler) DeleteAddress(c *gin.Context) {
	if err := h.registry.Delete(c.Param("identity")); err != nil {
		FromError(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.MailboxesDeleted.Inc()
	}
	Success(c, gin.H{"deleted": true})
}

// ListMessages 返回当前邮箱最新邮件的预览列表。
func (h *Handler) ListMessages(c *gin.Context) {
	previews, err := h.inbox.ListInbox(c.Param("identity"))
	if err != nil {
		FromError(c, err)
		return
	}
	Success(c, gin.H{
		"count":    len(previews),
		"messages": previews,
	})
}

// ViewMessage 返回单封邮件的完整渲染内容。
func (h *Handler) ViewMessage(c *gin.Context) {
	uid, err := parseUID(c.Param("uid"))
	if err != nil {
		BadRequest(c, "邮件编号不合法")
		return
	}

	body, err := h.inbox.ViewMessage(c.Param("identity"), uid)
	if err != nil {
		FromError(c, err)
		return
	}
	Success(c, gin.H{"uid": uid, "body": body})
}

// DeleteMessage 从上游服务器删除指定邮件。
func (h *Handler) DeleteMessage(c *gin.Context) {
	uid, err := parseUID(c.Param("uid"))
	if err != nil {
		BadRequest(c, "邮件编号不合法")
		return
	}

	if err := h.inbox.DeleteMessage(c.Param("identity"), uid); err != nil {
		FromError(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// DownloadAttachment 下载指定邮件的附件。
func (h *Handler) DownloadAttachment(c *gin.Context) {
	uid, err := parseUID(c.Param("uid"))
	if err != nil {
		BadRequest(c, "邮件编号不合法")
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		BadRequest(c, "附件编号不合法")
		return
	}

	file, err := h.inbox.DownloadAttachment(c.Param("identity"), uid, index)
	if err != nil {
		FromError(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.AttachmentsServed.Inc()
	}

	c.Header("Content-Type", file.MimeType)
	c.FileAttachment(file.Path, file.Filename)
}

// MailboxStats 返回单个邮箱的统计视图。
func (h *Handler) MailboxStats(c *gin.Context) {
	stats, err := h.registry.MailboxStats(c.Param("identity"))
	if err != nil {
		FromError(c, err)
		return
	}
	Success(c, stats)
}

// SystemStats 返回全局统计、轮询和清理的运行快照。
func (h *Handler) SystemStats(c *gin.Context) {
	stats, err := h.registry.Statistics()
	if err != nil {
		FromError(c, err)
		return
	}

	data := gin.H{"mailboxes": stats}
	if h.poller != nil {
		data["poller"] = h.poller.Snapshot()
	}
	if h.sweeper != nil {
		data["sweeper"] = h.sweeper.Snapshot()
	}
	Success(c, data)
}

func parseUID(raw string) (uint32, error) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
