package api

import (
	"github.com/gin-gonic/gin"

	"github.com/r3nzsec/irflow-timeline/internal/analytics"
	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/lateral"
	"github.com/r3nzsec/irflow-timeline/internal/persistence"
)

// analyticsRequest is the shared payload for column-scoped analytics.
type analyticsRequest struct {
	Filter      *filter.Model `json:"filter,omitempty"`
	Column      string        `json:"column,omitempty"`
	Granularity string        `json:"granularity,omitempty"`

	// Gap/burst tuning
	ThresholdMinutes int64   `json:"thresholdMinutes,omitempty"`
	WindowMinutes    int64   `json:"windowMinutes,omitempty"`
	Multiplier       float64 `json:"multiplier,omitempty"`

	// Coverage
	SourceColumn string `json:"sourceColumn,omitempty"`
	TimeColumn   string `json:"timeColumn,omitempty"`

	// Stacking
	ByValue bool `json:"byValue,omitempty"`

	// IOC
	Patterns []string `json:"patterns,omitempty"`
	TagLabel string   `json:"tagLabel,omitempty"`

	// Lateral movement
	Lateral lateral.Options `json:"lateral,omitempty"`

	// Persistence
	Persistence persistence.Options `json:"persistence,omitempty"`
}

func (s *Server) histogram(c *gin.Context) {
	var req analyticsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Column == "" {
		BadRequestError(c, "column is required")
		return
	}
	buckets, err := s.engine.Histogram(c.Param("id"), req.Filter, req.Column,
		analytics.Granularity(req.Granularity))
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "histogram", buckets)
}

func (s *Server) gaps(c *gin.Context) {
	var req analyticsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Column == "" {
		BadRequestError(c, "column is required")
		return
	}
	result, err := s.engine.Gaps(c.Param("id"), req.Filter, req.Column, req.ThresholdMinutes)
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "gaps", result)
}

func (s *Server) bursts(c *gin.Context) {
	var req analyticsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Column == "" {
		BadRequestError(c, "column is required")
		return
	}
	result, err := s.engine.Bursts(c.Param("id"), req.Filter, req.Column,
		req.WindowMinutes, req.Multiplier)
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "bursts", result)
}

func (s *Server) coverage(c *gin.Context) {
	var req analyticsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SourceColumn == "" || req.TimeColumn == "" {
		BadRequestError(c, "sourceColumn and timeColumn are required")
		return
	}
	result, err := s.engine.Coverage(c.Param("id"), req.Filter, req.SourceColumn, req.TimeColumn)
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "coverage", result)
}

func (s *Server) stacking(c *gin.Context) {
	var req analyticsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Column == "" {
		BadRequestError(c, "column is required")
		return
	}
	result, err := s.engine.Stacking(c.Param("id"), req.Filter, req.Column, req.ByValue)
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "stacking", result)
}

func (s *Server) matchIOCs(c *gin.Context) {
	var req analyticsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Patterns) == 0 {
		BadRequestError(c, "patterns is required")
		return
	}
	result, err := s.engine.MatchIOCs(c.Param("id"), req.Filter, req.Patterns, req.TagLabel)
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "ioc matches", result)
}

func (s *Server) processTree(c *gin.Context) {
	var req analyticsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request: "+err.Error())
		return
	}
	result, err := s.engine.ProcessTree(c.Param("id"), req.Filter)
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "process tree", result)
}

func (s *Server) lateralMovement(c *gin.Context) {
	var req analyticsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request: "+err.Error())
		return
	}
	result, err := s.engine.LateralMovement(c.Param("id"), req.Filter, req.Lateral)
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "lateral movement", result)
}

func (s *Server) persistenceScan(c *gin.Context) {
	var req analyticsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request: "+err.Error())
		return
	}
	result, err := s.engine.PersistenceScan(c.Param("id"), req.Filter, req.Persistence)
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "persistence scan", result)
}
