package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/CageChen/markkeep/internal/index"
	"github.com/CageChen/markkeep/internal/query"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the id assigned to every request
const RequestIDHeader = "X-Request-ID"

// NewRouter wires the read-only query API over store
func NewRouter(store *index.Store, ws *WSHandler, logger *slog.Logger) *gin.Engine {
	engine := query.NewEngine(store)
	fileHandler := NewFileHandler(store, engine)
	listHandler := NewListHandler(store, engine)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	r.Use(corsMiddleware())

	r.GET("/health", listHandler.Health)

	fm := r.Group("/frontmatter")
	{
		fm.GET("/file/*path", fileHandler.GetFile)
		fm.POST("/file/*path", fileHandler.PostFile)
		fm.GET("/list", listHandler.GetList)
		fm.POST("/list", listHandler.GetList)
		fm.GET("/collate_strings/:key", listHandler.CollateStrings)
		fm.POST("/collate_strings/:key", listHandler.CollateStrings)
		if ws != nil {
			fm.GET("/ws", ws.HandleWS)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		c.Next()

		logger.Debug("request",
			"id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, If-None-Match, "+RequestIDHeader)
		c.Header("Access-Control-Expose-Headers",
			"ETag, x-frontmatter, x-created, x-modified, x-generation, x-prev-file, x-next-file, x-total-count, "+RequestIDHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
