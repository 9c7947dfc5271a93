package api

import (
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, handler *Handler) {
	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Upload routes
		v1.POST("/uploads/presign", handler.RequestUpload)
		v1.POST("/uploads/complete", handler.CompleteUpload)

		// Meeting routes
		v1.GET("/meetings", handler.ListMeetings)
		v1.GET("/meetings/:meeting_id", handler.GetMeeting)
		v1.GET("/meetings/:meeting_id/tasks", handler.GetMeetingTasks)
		v1.GET("/meetings/:meeting_id/tasks/export", handler.ExportMeetingTasks)

		// Tracker routes
		v1.GET("/jira/tasks", handler.ListJiraIssues)
	}
}
