package controllers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/homefix/marketplace-api/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupHealthRouter(db *gorm.DB) *gin.Engine {
	ctl := NewHealthController(db)
	router := newRouter()
	router.GET("/health", ctl.Health)
	router.GET("/database/status", ctl.DatabaseStatus)
	return router
}

// newMockDB opens a postgres flavoured gorm handle backed by sqlmock
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB, DriverName: "postgres"}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestHealth(t *testing.T) {
	w := performJSON(t, setupHealthRouter(nil), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	var data map[string]string
	decodeData(t, w, &data)
	assert.Equal(t, "Marketplace API is running", data["message"])
}

func TestDatabaseStatus_Connected(t *testing.T) {
	db := testutil.NewTestDB(t)

	w := performJSON(t, setupHealthRouter(db), http.MethodGet, "/database/status", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Status     string   `json:"status"`
		Tables     []string `json:"tables"`
		TableCount int      `json:"table_count"`
	}
	decodeData(t, w, &data)
	assert.Equal(t, "connected", data.Status)
	assert.Subset(t, data.Tables, []string{"bookings", "conversations", "messages", "subscriptions", "users"})
	assert.Equal(t, len(data.Tables), data.TableCount)
	assert.IsNonDecreasing(t, data.Tables)
}

func TestDatabaseStatus_Postgres(t *testing.T) {
	tests := []struct {
		name       string
		expect     func(mock sqlmock.Sqlmock)
		wantStatus int
		wantCode   string
		wantTables []string
	}{
		{
			name: "tables listed in order",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing()
				mock.ExpectQuery("information_schema.tables").
					WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("users").AddRow("bookings").AddRow("messages"))
			},
			wantStatus: http.StatusOK,
			wantTables: []string{"bookings", "messages", "users"},
		},
		{
			name: "ping fails",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing().WillReturnError(errors.New("connection refused"))
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "DATABASE_CONNECTION_ERROR",
		},
		{
			name: "table listing fails",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing()
				mock.ExpectQuery("information_schema.tables").WillReturnError(errors.New("permission denied"))
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			tt.expect(mock)

			w := performJSON(t, setupHealthRouter(db), http.MethodGet, "/database/status", nil)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.NoError(t, mock.ExpectationsWereMet())

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, w))
				assert.NotContains(t, w.Body.String(), "connection refused", "driver errors stay in the logs")
				return
			}

			var data struct {
				Tables     []string `json:"tables"`
				TableCount int      `json:"table_count"`
			}
			decodeData(t, w, &data)
			assert.Equal(t, tt.wantTables, data.Tables)
			assert.Equal(t, len(tt.wantTables), data.TableCount)
		})
	}
}
