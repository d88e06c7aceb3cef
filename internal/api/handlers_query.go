package api

import (
	"github.com/gin-gonic/gin"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/query"
)

// queryTab runs a windowed fetch.
func (s *Server) queryTab(c *gin.Context) {
	var req query.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid query request: "+err.Error())
		return
	}

	result, err := s.engine.Query(c.Param("id"), &req)
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "rows", result)
}

// valuesRequest scopes a unique-values or grouping query.
type valuesRequest struct {
	Filter       *filter.Model `json:"filter,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	GroupColumns []string      `json:"groupColumns,omitempty"`
	ParentKey    []string      `json:"parentKey,omitempty"`
}

// uniqueValues backs the checkbox dropdown for one column.
func (s *Server) uniqueValues(c *gin.Context) {
	var req valuesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid values request: "+err.Error())
		return
	}

	values, err := s.engine.UniqueValues(c.Param("id"), req.Filter, c.Param("column"), req.Limit)
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "values", values)
}

// groupValues backs one level of the grouping tree.
func (s *Server) groupValues(c *gin.Context) {
	var req valuesRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.GroupColumns) == 0 {
		BadRequestError(c, "groupColumns is required")
		return
	}

	values, err := s.engine.GroupValues(c.Param("id"), req.Filter, req.GroupColumns, req.ParentKey)
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "groups", values)
}
