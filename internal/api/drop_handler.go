package api

import (
	"net/http"

	"BlueprintLedger/internal/config"
	"BlueprintLedger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DropHandler 发放接口：玩法模块（任务/训练/战斗/开包/活动）调用
type DropHandler struct {
	awardService *service.AwardService
	logger       *logrus.Logger
}

// NewDropHandler 创建 DropHandler
func NewDropHandler(db *gorm.DB, logger *logrus.Logger, cfg *config.Config, registry *service.SeasonRegistry) *DropHandler {
	svc := service.NewAwardService(db, logger, &cfg.Economy, registry)
	return &DropHandler{
		awardService: svc,
		logger:       logger,
	}
}

// NewDropHandlerWithService 注入已构造的服务（测试用）
func NewDropHandlerWithService(svc *service.AwardService, logger *logrus.Logger) *DropHandler {
	return &DropHandler{awardService: svc, logger: logger}
}

// awardRequest 发放请求体
type awardRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
	service.DropRequest
}

// AwardFragments 发放碎片
// POST /api/drops/award
func (h *DropHandler) AwardFragments(c *gin.Context) {
	var req awardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": service.ReasonInvalidRequest})
		return
	}

	result, err := h.awardService.Award(c.Request.Context(), req.PlayerID, &req.DropRequest)
	if err != nil {
		h.logger.WithError(err).WithField("player_id", req.PlayerID).Error("AwardFragments failed")
		status := http.StatusServiceUnavailable
		if service.IsClientFault(err) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error(), "kind": service.ReasonOf(err)})
		return
	}

	// 准入失败也是正常业务结果，由调用方按 reason 决定是否重试
	c.JSON(http.StatusOK, result)
}
