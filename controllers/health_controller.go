package controllers

import (
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/homefix/marketplace-api/config"
	"github.com/homefix/marketplace-api/utils"
	"gorm.io/gorm"
)

// HealthController reports liveness and database connectivity
type HealthController struct {
	db *gorm.DB
}

// NewHealthController creates a HealthController
func NewHealthController(db *gorm.DB) *HealthController {
	return &HealthController{db: db}
}

// Health handles GET /health
func (ctl *HealthController) Health(c *gin.Context) {
	utils.RespondOK(c, gin.H{"message": "Marketplace API is running"})
}

// DatabaseStatus handles GET /database/status - checks database connectivity
// and returns table information
func (ctl *HealthController) DatabaseStatus(c *gin.Context) {
	if err := config.PingDatabase(ctl.db); err != nil {
		utils.RespondError(c, utils.WrapError(utils.KindInternal, "DATABASE_CONNECTION_ERROR", "Database connection failed", err))
		return
	}

	tables, err := ctl.db.WithContext(c.Request.Context()).Migrator().GetTables()
	if err != nil {
		utils.RespondError(c, utils.Internal("Failed to query tables", err))
		return
	}
	sort.Strings(tables)

	utils.RespondOK(c, gin.H{
		"status":      "connected",
		"tables":      tables,
		"table_count": len(tables),
	})
}
