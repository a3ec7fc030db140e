package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/CageChen/markkeep/internal/index"
	"github.com/CageChen/markkeep/internal/query"
	"github.com/gin-gonic/gin"
)

// ListHandler serves listings and value collations across tracked files
type ListHandler struct {
	store  *index.Store
	engine *query.Engine
}

// NewListHandler creates a new list handler
func NewListHandler(store *index.Store, engine *query.Engine) *ListHandler {
	return &ListHandler{
		store:  store,
		engine: engine,
	}
}

// Health reports liveness and the number of tracked files
func (h *ListHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"files":  h.store.Len(),
	})
}

// GetList returns file summaries sorted and paginated by the query
// parameters. POST requests filter by the front matter query in the body.
func (h *ListHandler) GetList(c *gin.Context) {
	var q query.Query
	if c.Request.Method == http.MethodPost {
		var err error
		if q, err = bindQuery(c); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	s, err := parseSort(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := parsePage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	files, total := h.engine.List(q, s, p)
	c.Header("x-total-count", strconv.Itoa(total))
	c.JSON(http.StatusOK, files)
}

// CollateStrings returns the distinct string values of one front matter
// key. POST requests restrict the files by the query in the body.
func (h *ListHandler) CollateStrings(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "key is required",
		})
		return
	}

	var q query.Query
	if c.Request.Method == http.MethodPost {
		var err error
		if q, err = bindQuery(c); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, h.engine.Collate(key, q))
}

func parsePage(c *gin.Context) (query.Page, error) {
	var p query.Page
	var err error
	if p.Offset, err = nonNegative(c, "offset"); err != nil {
		return p, err
	}
	if p.Limit, err = nonNegative(c, "limit"); err != nil {
		return p, err
	}
	return p, nil
}

func nonNegative(c *gin.Context, name string) (int, error) {
	v, ok := c.GetQuery(name)
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}
