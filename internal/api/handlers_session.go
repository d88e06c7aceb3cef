package api

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/r3nzsec/irflow-timeline/internal/analytics"
	"github.com/r3nzsec/irflow-timeline/internal/engine"
	"github.com/r3nzsec/irflow-timeline/internal/export"
	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/session"
)

// mergeRequest names the merged tab and its sources.
type mergeRequest struct {
	Name    string                  `json:"name" binding:"required"`
	Sources []analytics.MergeSource `json:"sources" binding:"required"`
}

// mergeTabs builds a merged super-timeline tab.
func (s *Server) mergeTabs(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "name and sources are required")
		return
	}

	tab, err := s.engine.Merge(req.Name, req.Sources, nil)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	CreatedResponse(c, "merged", gin.H{"tabId": tab.ID, "rows": tab.RowCount()})
}

// exportRequest describes an export run.
type exportRequest struct {
	Filter     *filter.Model `json:"filter,omitempty"`
	SortColumn string        `json:"sortColumn,omitempty"`
	SortDir    string        `json:"sortDir,omitempty"`
	Format     string        `json:"format" binding:"required"`
	OutPath    string        `json:"outPath" binding:"required"`
}

// exportTab writes filtered rows to disk.
func (s *Server) exportTab(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "format and outPath are required")
		return
	}

	n, err := s.engine.Export(c.Param("id"), export.Options{
		Filter:     req.Filter,
		SortColumn: req.SortColumn,
		SortDir:    req.SortDir,
		Format:     export.Format(req.Format),
		OutPath:    req.OutPath,
	})
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "exported", gin.H{"rows": n, "path": req.OutPath})
}

// reportRequest names the report output.
type reportRequest struct {
	OutPath string `json:"outPath" binding:"required"`
}

// reportTab writes the HTML report for a tab.
func (s *Server) reportTab(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "outPath is required")
		return
	}
	if err := s.engine.Report(c.Param("id"), req.OutPath); err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "report written", gin.H{"path": req.OutPath})
}

// sessionRequest carries the session path plus the UI-owned state.
type sessionRequest struct {
	Path  string              `json:"path" binding:"required"`
	State engine.SessionState `json:"state,omitempty"`
}

// saveSession captures the open tabs into a session file.
func (s *Server) saveSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "path is required")
		return
	}
	if err := s.engine.SaveSession(req.Path, req.State); err != nil {
		InternalError(c, err.Error())
		return
	}
	SuccessResponse(c, "session saved", gin.H{"path": req.Path})
}

// loadSession restores a session file, re-importing each file.
// Individual tab failures are reported, not fatal.
func (s *Server) loadSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "path is required")
		return
	}
	result, err := s.engine.LoadSession(req.Path)
	if err != nil {
		BadRequestError(c, err.Error())
		return
	}
	SuccessResponse(c, "session loaded", result)
}

// getPresets returns the persistent filter presets verbatim.
func (s *Server) getPresets(c *gin.Context) {
	presets, err := session.LoadPresets(s.engine.PresetsPath())
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	if presets == nil {
		presets = []json.RawMessage{}
	}
	SuccessResponse(c, "presets", presets)
}

// putPresets replaces the persistent filter presets verbatim.
func (s *Server) putPresets(c *gin.Context) {
	var presets []json.RawMessage
	if err := c.ShouldBindJSON(&presets); err != nil {
		BadRequestError(c, "a JSON array is required")
		return
	}
	if err := session.SavePresets(s.engine.PresetsPath(), presets); err != nil {
		InternalError(c, err.Error())
		return
	}
	SuccessResponse(c, "presets saved", nil)
}
