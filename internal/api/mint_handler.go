package api

import (
	"net/http"

	"BlueprintLedger/internal/config"
	"BlueprintLedger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MintHandler 铸造接口
type MintHandler struct {
	mintService *service.MintService
	logger      *logrus.Logger
}

// NewMintHandler 创建 MintHandler
func NewMintHandler(db *gorm.DB, logger *logrus.Logger, cfg *config.Config, registry *service.SeasonRegistry) *MintHandler {
	svc := service.NewMintService(db, logger, &cfg.Economy, registry)
	return &MintHandler{
		mintService: svc,
		logger:      logger,
	}
}

// NewMintHandlerWithService 注入已构造的服务（测试用）
func NewMintHandlerWithService(svc *service.MintService, logger *logrus.Logger) *MintHandler {
	return &MintHandler{mintService: svc, logger: logger}
}

// GetEligibility 查询铸造资格
// GET /api/mint/eligibility?player_id=xx&item_type=weapon&tier=common
func (h *MintHandler) GetEligibility(c *gin.Context) {
	playerID := c.Query("player_id")
	itemType := c.Query("item_type")
	tier := c.DefaultQuery("tier", "common")

	result, err := h.mintService.Eligibility(c.Request.Context(), playerID, itemType, tier)
	if err != nil {
		h.respondError(c, err, "GetEligibility failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

// mintRequest 铸造请求体
type mintRequest struct {
	PlayerID      string `json:"player_id" binding:"required"`
	ItemType      string `json:"item_type" binding:"required"`
	Tier          string `json:"tier" binding:"required"`
	TransactionID string `json:"transaction_id"` // 空则服务端生成；重试请带同一事务号
}

// Mint 执行铸造
// POST /api/mint
func (h *MintHandler) Mint(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": service.ReasonInvalidRequest})
		return
	}

	result, err := h.mintService.Mint(c.Request.Context(), req.PlayerID, req.ItemType, req.Tier, req.TransactionID)
	if err != nil {
		h.respondError(c, err, "Mint failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *MintHandler) respondError(c *gin.Context, err error, msg string) {
	h.logger.WithError(err).Error(msg)
	status := http.StatusServiceUnavailable
	if service.IsClientFault(err) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": service.ReasonOf(err)})
}
