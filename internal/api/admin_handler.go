package api

import (
	"net/http"
	"strconv"

	"BlueprintLedger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AdminHandler 运营侧接口：建赛季、手动触发结算。部署在内网，不对玩家开放
type AdminHandler struct {
	seasonService   *service.SeasonService
	rolloverService *service.RolloverService
	logger          *logrus.Logger
}

// NewAdminHandler 创建 AdminHandler
func NewAdminHandler(db *gorm.DB, logger *logrus.Logger, registry *service.SeasonRegistry) *AdminHandler {
	return &AdminHandler{
		seasonService:   service.NewSeasonService(db, logger, registry),
		rolloverService: service.NewRolloverService(db, logger, registry),
		logger:          logger,
	}
}

// NewAdminHandlerWithServices 注入已构造的服务（测试用）
func NewAdminHandlerWithServices(seasonSvc *service.SeasonService, rolloverSvc *service.RolloverService, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{seasonService: seasonSvc, rolloverService: rolloverSvc, logger: logger}
}

// CreateSeason 创建赛季（含台账初始化）
// POST /admin/seasons
func (h *AdminHandler) CreateSeason(c *gin.Context) {
	var in service.CreateSeasonInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": service.ReasonInvalidRequest})
		return
	}
	season, err := h.seasonService.CreateSeason(c.Request.Context(), &in)
	if err != nil {
		h.respondError(c, err, "CreateSeason failed")
		return
	}
	c.JSON(http.StatusCreated, season)
}

// ListSeasons 赛季列表
// GET /admin/seasons
func (h *AdminHandler) ListSeasons(c *gin.Context) {
	list, err := h.seasonService.ListSeasons(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "ListSeasons failed")
		return
	}
	c.JSON(http.StatusOK, list)
}

// TriggerRollover 手动触发赛季结算（后台任务失败后的补救入口）
// POST /admin/seasons/:season_id/rollover
func (h *AdminHandler) TriggerRollover(c *gin.Context) {
	seasonID, err := strconv.ParseUint(c.Param("season_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "season_id 必须为数字", "kind": service.ReasonInvalidRequest})
		return
	}
	converted, err := h.rolloverService.RolloverSeason(c.Request.Context(), seasonID)
	if err != nil {
		h.respondError(c, err, "TriggerRollover failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"season_id": seasonID, "players_converted": converted})
}

func (h *AdminHandler) respondError(c *gin.Context, err error, msg string) {
	h.logger.WithError(err).Error(msg)
	status := http.StatusServiceUnavailable
	if service.IsClientFault(err) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": service.ReasonOf(err)})
}
