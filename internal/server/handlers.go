package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"camsitter/internal/camera"
)

// StatusProvider はカメラ状態のスナップショットを提供する
type StatusProvider interface {
	List() []camera.Snapshot
	Get(name string) (camera.Snapshot, bool)
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// CamerasResponse はカメラ一覧のレスポンス
type CamerasResponse struct {
	Cameras []camera.Snapshot `json:"cameras"`
}

// ErrorResponse はエラーレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusHandler はステータスAPIのハンドラ
type StatusHandler struct {
	status StatusProvider
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *StatusHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// GetCameras はカメラ一覧取得エンドポイントの実装
func (h *StatusHandler) GetCameras(c *gin.Context) {
	cameras := h.status.List()
	if cameras == nil {
		cameras = []camera.Snapshot{}
	}

	c.JSON(http.StatusOK, CamerasResponse{Cameras: cameras})
}

// GetCamera は個別カメラ取得エンドポイントの実装
func (h *StatusHandler) GetCamera(c *gin.Context) {
	snap, found := h.status.Get(c.Param("name"))
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "camera_not_found",
			Message:   "指定されたカメラが見つかりません",
			Timestamp: time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, snap)
}
