package api

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/r3nzsec/irflow-timeline/internal/ingest"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

// listTabs returns every open tab.
func (s *Server) listTabs(c *gin.Context) {
	SuccessResponse(c, "tabs", s.engine.Tabs())
}

// closeTab destroys a tab and its scratch store.
func (s *Server) closeTab(c *gin.Context) {
	if err := s.engine.CloseTab(c.Param("id")); err != nil {
		if errors.Is(err, tabstore.ErrTabNotFound) {
			NotFoundError(c, "tab not found")
			return
		}
		InternalError(c, err.Error())
		return
	}
	SuccessResponse(c, "tab closed", nil)
}

// importRequest is the intake payload.
type importRequest struct {
	Path      string `json:"path" binding:"required"`
	SheetName string `json:"sheetName,omitempty"`
}

// importFile enqueues a file import. Multi-sheet workbooks without a
// chosen sheet return 409 carrying the sheet names.
func (s *Server) importFile(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "path is required")
		return
	}

	if err := s.engine.Import(req.Path, req.SheetName); err != nil {
		var sheetErr *ingest.SheetChoiceError
		if errors.As(err, &sheetErr) {
			ConflictError(c, "workbook has multiple sheets; choose one", gin.H{"sheets": sheetErr.Sheets})
			return
		}
		BadRequestError(c, err.Error())
		return
	}
	SuccessResponse(c, "queued", gin.H{"queue": s.engine.ImportQueue()})
}

// importQueue returns the outstanding import paths.
func (s *Server) importQueue(c *gin.Context) {
	SuccessResponse(c, "queue", s.engine.ImportQueue())
}

// cancelImport aborts the running import.
func (s *Server) cancelImport(c *gin.Context) {
	s.engine.CancelImport()
	SuccessResponse(c, "cancelled", nil)
}

// importEvents streams scheduler events as server-sent events until the
// client disconnects.
func (s *Server) importEvents(c *gin.Context) {
	events, cancel := s.engine.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// rowIDParam parses the :rowId path segment.
func rowIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("rowId"), 10, 64)
	if err != nil {
		BadRequestError(c, "invalid row id")
		return 0, false
	}
	return id, true
}

// toggleBookmark flips one row's bookmark.
func (s *Server) toggleBookmark(c *gin.Context) {
	rowID, ok := rowIDParam(c)
	if !ok {
		return
	}
	bookmarked, err := s.engine.ToggleBookmark(c.Param("id"), rowID)
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "bookmark toggled", gin.H{"bookmarked": bookmarked})
}

// bulkMarkRequest applies a bookmark or tag operation to many rows.
type bulkMarkRequest struct {
	RowIDs []int64 `json:"rowIds" binding:"required"`
	Label  string  `json:"label,omitempty"`
	On     bool    `json:"on"`
}

// bulkBookmarks bookmarks or unbookmarks many rows.
func (s *Server) bulkBookmarks(c *gin.Context) {
	var req bulkMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "rowIds is required")
		return
	}
	if err := s.engine.SetBookmarks(c.Param("id"), req.RowIDs, req.On); err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "bookmarks updated", nil)
}

// tagRows applies a label to one or many rows.
func (s *Server) tagRows(c *gin.Context) {
	var req bulkMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Label == "" {
		BadRequestError(c, "rowIds and label are required")
		return
	}
	if err := s.engine.SetTags(c.Param("id"), req.RowIDs, req.Label, true); err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "tagged", nil)
}

// untagRows removes a label from one or many rows.
func (s *Server) untagRows(c *gin.Context) {
	var req bulkMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Label == "" {
		BadRequestError(c, "rowIds and label are required")
		return
	}
	if err := s.engine.SetTags(c.Param("id"), req.RowIDs, req.Label, false); err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "untagged", nil)
}

// tagLabels lists the labels in use on a tab.
func (s *Server) tagLabels(c *gin.Context) {
	labels, err := s.engine.TagLabels(c.Param("id"))
	if err != nil {
		respondTabError(c, err)
		return
	}
	SuccessResponse(c, "labels", labels)
}

// respondTabError maps engine errors to HTTP statuses.
func respondTabError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tabstore.ErrTabNotFound):
		NotFoundError(c, "tab not found")
	case errors.Is(err, tabstore.ErrBuildInProgress):
		ConflictError(c, "background build in progress; retry shortly", nil)
	default:
		InternalError(c, err.Error())
	}
}
