package api

import (
	"net/http"
	"strconv"

	"BlueprintLedger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StatsHandler 只读查询接口（看板与前端页面用）
type StatsHandler struct {
	statsService *service.StatsService
	registry     *service.SeasonRegistry
	logger       *logrus.Logger
}

// NewStatsHandler 创建 StatsHandler
func NewStatsHandler(db *gorm.DB, logger *logrus.Logger, registry *service.SeasonRegistry) *StatsHandler {
	return &StatsHandler{
		statsService: service.NewStatsService(db, logger),
		registry:     registry,
		logger:       logger,
	}
}

// NewStatsHandlerWithService 注入已构造的服务（测试用）
func NewStatsHandlerWithService(svc *service.StatsService, registry *service.SeasonRegistry, logger *logrus.Logger) *StatsHandler {
	return &StatsHandler{statsService: svc, registry: registry, logger: logger}
}

// GetActiveSeason 当前活跃赛季
// GET /api/seasons/active
func (h *StatsHandler) GetActiveSeason(c *gin.Context) {
	season, err := h.registry.ActiveSeason(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "GetActiveSeason failed")
		return
	}
	c.JSON(http.StatusOK, season)
}

// GetGlobalStats 赛季台账快照
// GET /api/stats/global/:season_id
func (h *StatsHandler) GetGlobalStats(c *gin.Context) {
	seasonID, err := strconv.ParseUint(c.Param("season_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "season_id 必须为数字", "kind": service.ReasonInvalidRequest})
		return
	}
	stats, err := h.statsService.GetGlobalStats(c.Request.Context(), seasonID)
	if err != nil {
		h.respondError(c, err, "GetGlobalStats failed")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetPlayerState 玩家赛季状态
// GET /api/players/:player_id/state?season_id=1
func (h *StatsHandler) GetPlayerState(c *gin.Context) {
	playerID := c.Param("player_id")
	seasonID, err := strconv.ParseUint(c.Query("season_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "season_id 必须为数字", "kind": service.ReasonInvalidRequest})
		return
	}
	state, err := h.statsService.GetPlayerState(c.Request.Context(), playerID, seasonID)
	if err != nil {
		h.respondError(c, err, "GetPlayerState failed")
		return
	}
	c.JSON(http.StatusOK, state)
}

// ListPlayerDrops 玩家发放流水
// GET /api/players/:player_id/drops?season_id=1&page=1&page_size=20
func (h *StatsHandler) ListPlayerDrops(c *gin.Context) {
	playerID := c.Param("player_id")
	seasonID, err := strconv.ParseUint(c.Query("season_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "season_id 必须为数字", "kind": service.ReasonInvalidRequest})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, total, err := h.statsService.ListPlayerDrops(c.Request.Context(), playerID, seasonID, page, pageSize)
	if err != nil {
		h.respondError(c, err, "ListPlayerDrops failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"page": page, "page_size": pageSize, "total": total, "items": list})
}

// ListPlayerMints 玩家铸造流水
// GET /api/players/:player_id/mints?season_id=1&page=1&page_size=20
func (h *StatsHandler) ListPlayerMints(c *gin.Context) {
	playerID := c.Param("player_id")
	seasonID, err := strconv.ParseUint(c.Query("season_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "season_id 必须为数字", "kind": service.ReasonInvalidRequest})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, total, err := h.statsService.ListPlayerMints(c.Request.Context(), playerID, seasonID, page, pageSize)
	if err != nil {
		h.respondError(c, err, "ListPlayerMints failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"page": page, "page_size": pageSize, "total": total, "items": list})
}

func (h *StatsHandler) respondError(c *gin.Context, err error, msg string) {
	h.logger.WithError(err).Error(msg)
	status := http.StatusServiceUnavailable
	if service.IsClientFault(err) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": service.ReasonOf(err)})
}
