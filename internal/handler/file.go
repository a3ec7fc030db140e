// Package handler provides the HTTP handlers for the MarkKeep query API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	mfs "github.com/CageChen/markkeep/internal/fs"
	"github.com/CageChen/markkeep/internal/index"
	"github.com/CageChen/markkeep/internal/query"
	"github.com/gin-gonic/gin"
)

const contentTypeMarkdown = "text/markdown; charset=utf-8"

// FileHandler serves the content of single tracked files
type FileHandler struct {
	store  *index.Store
	engine *query.Engine
}

// NewFileHandler creates a new file handler
func NewFileHandler(store *index.Store, engine *query.Engine) *FileHandler {
	return &FileHandler{
		store:  store,
		engine: engine,
	}
}

// GetFile returns the raw content of a tracked file. Passing sort or order
// adds the names of its neighbours in that listing.
func (h *FileHandler) GetFile(c *gin.Context) {
	name, err := mfs.Resolve(c.Param("path"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid path",
		})
		return
	}

	_, hasSort := c.GetQuery("sort")
	_, hasOrder := c.GetQuery("order")
	if !hasSort && !hasOrder {
		f, ok := h.store.Get(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "file not found",
			})
			return
		}
		writeFile(c, f, "", "")
		return
	}

	s, err := parseSort(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.single(c, name, query.Query{}, s)
}

// PostFile is GetFile with the neighbours taken from the files matching
// the front matter query in the request body.
func (h *FileHandler) PostFile(c *gin.Context) {
	name, err := mfs.Resolve(c.Param("path"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid path",
		})
		return
	}

	q, err := bindQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := parseSort(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.single(c, name, q, s)
}

func (h *FileHandler) single(c *gin.Context, name string, q query.Query, s query.Sort) {
	res, ok := h.engine.Single(name, q, s)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "file not found",
		})
		return
	}
	writeFile(c, res.File, res.Prev, res.Next)
}

func writeFile(c *gin.Context, f index.TrackedFile, prev, next string) {
	etag := fmt.Sprintf(`"%016x"`, f.Checksum)
	c.Header("ETag", etag)
	c.Header("x-generation", strconv.FormatUint(f.Generation, 10))
	if prev != "" {
		c.Header("x-prev-file", prev)
	}
	if next != "" {
		c.Header("x-next-file", next)
	}

	if etagMatches(c.GetHeader("If-None-Match"), etag) {
		c.Status(http.StatusNotModified)
		return
	}

	if f.Frontmatter != nil {
		if data, err := json.Marshal(f.Frontmatter); err == nil {
			c.Header("x-frontmatter", string(data))
		}
	}
	c.Header("x-created", f.Created.UTC().Format(time.RFC3339))
	c.Header("x-modified", f.Modified.UTC().Format(time.RFC3339))

	c.Data(http.StatusOK, contentTypeMarkdown, []byte(f.Content))
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// parseSort reads the sort and order parameters; order defaults to desc
func parseSort(c *gin.Context) (query.Sort, error) {
	s := query.Sort{Key: c.Query("sort")}
	switch order := c.DefaultQuery("order", "desc"); order {
	case "desc":
	case "asc":
		s.Asc = true
	default:
		return s, fmt.Errorf("invalid order %q: want asc or desc", order)
	}
	return s, nil
}

// bindQuery reads a front matter query from the JSON body and the
// intersect parameter. An empty body is the empty query.
func bindQuery(c *gin.Context) (query.Query, error) {
	var q query.Query

	if v, ok := c.GetQuery("intersect"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return q, fmt.Errorf("invalid intersect %q", v)
		}
		q.Intersect = b
	}

	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&q.Match); err != nil {
			return q, errors.New("query body must be a JSON object")
		}
	}
	if err := q.Validate(); err != nil {
		return q, err
	}
	return q, nil
}
