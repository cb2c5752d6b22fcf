package controllers

import (
	"github.com/benchmark-ops/order-workflow-api/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts every authenticated endpoint on rg; auth validates the caller's token
func RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	protected := rg.Group("", auth)

	users := protected.Group("/users")
	{
		users.GET("/me", GetMyProfile)
		users.PUT("/me", UpdateMyProfile)
	}

	projects := protected.Group("/projects")
	{
		projects.POST("", CreateProject)
		projects.GET("/:id", GetProject)
	}

	orders := protected.Group("/orders")
	{
		orders.POST("", IntakeOrder)
		orders.POST("/import", middleware.RequireScope(middleware.ScopeImportOrders), ImportOrder)
		orders.GET("", ListOrders)
		orders.GET("/:id", GetOrder)
	}

	workflow := protected.Group("/workflow")
	{
		workflow.POST("/orders/:id/start", StartOrder)
		workflow.POST("/orders/:id/submit", SubmitOrder)
		workflow.POST("/orders/:id/reject", RejectOrder)
		workflow.POST("/orders/:id/hold", HoldOrder)
		workflow.POST("/orders/:id/resume", ResumeOrder)
		workflow.POST("/orders/:id/reassign", ReassignOrder)
		workflow.POST("/orders/:id/cancel", CancelOrder)
		workflow.POST("/start-next", StartNext)
		workflow.GET("/next/:projectId", PeekNext)
		workflow.POST("/bulk-assign", BulkAssign)
		workflow.GET("/queue-health/:projectId", QueueHealth)
		workflow.GET("/my-current", MyCurrentOrder)
		workflow.GET("/work-items/:orderId", WorkItems)
	}

	locks := protected.Group("/month-locks")
	{
		locks.POST("/:projectId/:month/:year", LockMonth)
		locks.DELETE("/:projectId/:month/:year", UnlockMonth)
		locks.GET("/:projectId", ListMonthLocks)
	}
}
