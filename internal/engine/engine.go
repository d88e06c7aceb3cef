// Package engine wires the subsystems into one facade: the tab
// registry, import scheduler, query engine, search, analytics, and
// session persistence. The CLI and the REST API both drive this type;
// every operation is message-style so per-tab work serializes cleanly.
package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/r3nzsec/irflow-timeline/internal/analytics"
	"github.com/r3nzsec/irflow-timeline/internal/export"
	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/ingest"
	"github.com/r3nzsec/irflow-timeline/internal/lateral"
	"github.com/r3nzsec/irflow-timeline/internal/logging"
	"github.com/r3nzsec/irflow-timeline/internal/persistence"
	"github.com/r3nzsec/irflow-timeline/internal/proctree"
	"github.com/r3nzsec/irflow-timeline/internal/query"
	"github.com/r3nzsec/irflow-timeline/internal/session"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
	"github.com/r3nzsec/irflow-timeline/pkg/config"
)

// Engine is the core facade.
type Engine struct {
	cfg       *config.Config
	registry  *tabstore.Registry
	scheduler *ingest.Scheduler
	log       *logging.Logger

	// sheetNames remembers the chosen worksheet per source path so
	// session capture can persist it.
	sheetNames map[string]string
}

// New builds the engine from configuration.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	registry := tabstore.NewRegistry(cfg.Storage.ScratchDir)
	scheduler := ingest.NewScheduler(registry, ingest.Tuning{
		BatchRows:    cfg.Import.BatchRows,
		FTSChunkRows: cfg.Import.FTSChunkRows,
		SchemaScan:   cfg.Import.EvtxSchemaScan,
	})

	return &Engine{
		cfg:        cfg,
		registry:   registry,
		scheduler:  scheduler,
		log:        logging.GetLogger("engine"),
		sheetNames: make(map[string]string),
	}, nil
}

// Close shuts down the scheduler and destroys every open tab.
func (e *Engine) Close() {
	e.scheduler.Stop()
	e.registry.CloseAll()
}

// Registry exposes the tab registry to handlers that only need lookups.
func (e *Engine) Registry() *tabstore.Registry { return e.registry }

// Subscribe relays scheduler events (queue changes, progress, errors).
func (e *Engine) Subscribe() (<-chan ingest.Event, func()) {
	return e.scheduler.Subscribe()
}

// ImportQueue returns the outstanding import paths.
func (e *Engine) ImportQueue() []string { return e.scheduler.Queue() }

// CancelImport aborts the running import.
func (e *Engine) CancelImport() { e.scheduler.CancelActive() }

// Import enqueues a file. Multi-sheet workbooks without a chosen sheet
// fail fast with a SheetChoiceError so the caller can ask the user
// before anything enters the queue.
func (e *Engine) Import(path, sheetName string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xls", ".xlsm":
		if sheetName == "" {
			sheets, err := ingest.SheetNames(path)
			if err != nil {
				return err
			}
			if len(sheets) > 1 {
				return &ingest.SheetChoiceError{Sheets: sheets}
			}
		}
	}
	if sheetName != "" {
		e.sheetNames[path] = sheetName
	}
	e.scheduler.Enqueue(path, ingest.Options{SheetName: sheetName})
	return nil
}

// ImportAndWait enqueues a file and blocks until its import completes,
// returning the new tab. Used by the CLI and by session restore.
func (e *Engine) ImportAndWait(path, sheetName string) (*tabstore.Tab, error) {
	events, cancel := e.scheduler.Subscribe()
	defer cancel()

	if err := e.Import(path, sheetName); err != nil {
		return nil, err
	}

	for ev := range events {
		if ev.Path != path {
			continue
		}
		switch ev.Kind {
		case ingest.EventImported:
			return e.registry.Get(ev.TabID)
		case ingest.EventError:
			return nil, fmt.Errorf("import of %s failed: %s", path, ev.Error)
		}
	}
	return nil, fmt.Errorf("import of %s aborted", path)
}

// TabInfo is the registry view handed to callers.
type TabInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	SourcePath string   `json:"sourcePath,omitempty"`
	Columns    []string `json:"columns"`
	RowCount   int64    `json:"rowCount"`
	FTSReady   bool     `json:"ftsReady"`
	Building   bool     `json:"building"`
}

// Tabs lists the open tabs.
func (e *Engine) Tabs() []TabInfo {
	tabs := e.registry.List()
	out := make([]TabInfo, len(tabs))
	for i, t := range tabs {
		out[i] = TabInfo{
			ID:         t.ID,
			Name:       t.Name,
			SourcePath: t.SourcePath,
			Columns:    t.Headers(),
			RowCount:   t.RowCount(),
			FTSReady:   t.FTSReady(),
			Building:   t.Building(),
		}
	}
	return out
}

// CloseTab destroys one tab and its scratch store.
func (e *Engine) CloseTab(id string) error { return e.registry.Close(id) }

// Query runs a windowed fetch against a tab.
func (e *Engine) Query(tabID string, req *query.Request) (*query.Result, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return nil, err
	}
	return query.Fetch(tab, req)
}

// UniqueValues backs the checkbox dropdown for one column.
func (e *Engine) UniqueValues(tabID string, m *filter.Model, column string, limit int) ([]query.ValueCount, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return nil, err
	}
	return query.UniqueValues(tab, m, column, limit)
}

// GroupValues backs one level of the grouping tree.
func (e *Engine) GroupValues(tabID string, m *filter.Model, groupColumns, parentKey []string) ([]query.ValueCount, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return nil, err
	}
	return query.GroupValues(tab, m, groupColumns, parentKey)
}

// mutate runs a store mutation, polling readiness around background
// builds. Mutations are rejected while an index or FTS build holds the
// store; the engine is the caller that polls and retries. Retrying a
// partially applied bulk mutation is safe: bookmarks and tags have set
// semantics.
func mutate(tab *tabstore.Tab, fn func() error) error {
	for {
		for tab.Building() && !tab.Closed() {
			time.Sleep(10 * time.Millisecond)
		}
		err := fn()
		if !errors.Is(err, tabstore.ErrBuildInProgress) {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ToggleBookmark flips one row's bookmark.
func (e *Engine) ToggleBookmark(tabID string, rowID int64) (bool, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return false, err
	}
	var bookmarked bool
	err = mutate(tab, func() error {
		var toggleErr error
		bookmarked, toggleErr = tab.ToggleBookmark(rowID)
		return toggleErr
	})
	return bookmarked, err
}

// SetBookmarks bookmarks or unbookmarks many rows.
func (e *Engine) SetBookmarks(tabID string, rowIDs []int64, on bool) error {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return err
	}
	return mutate(tab, func() error { return tab.SetBookmarks(rowIDs, on) })
}

// AddTag attaches a label to one row.
func (e *Engine) AddTag(tabID string, rowID int64, label string) error {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return err
	}
	return mutate(tab, func() error { return tab.AddTag(rowID, label) })
}

// RemoveTag detaches a label from one row.
func (e *Engine) RemoveTag(tabID string, rowID int64, label string) error {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return err
	}
	return mutate(tab, func() error { return tab.RemoveTag(rowID, label) })
}

// SetTags applies or removes one label across many rows.
func (e *Engine) SetTags(tabID string, rowIDs []int64, label string, on bool) error {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return err
	}
	return mutate(tab, func() error { return tab.SetTags(rowIDs, label, on) })
}

// TagLabels lists the distinct labels in use on a tab.
func (e *Engine) TagLabels(tabID string) ([]string, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return nil, err
	}
	return tab.TagLabels()
}

// Histogram buckets a timestamp column by day or hour.
func (e *Engine) Histogram(tabID string, m *filter.Model, column string, gran analytics.Granularity) ([]analytics.Bucket, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return nil, err
	}
	return analytics.Histogram(tab, m, column, gran)
}

// Gaps finds silent intervals and activity sessions.
func (e *Engine) Gaps(tabID string, m *filter.Model, column string, thresholdMinutes int64) (*analytics.GapResult, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return nil, err
	}
	return analytics.Gaps(tab, m, column, thresholdMinutes)
}

// Bursts finds windows of anomalous event volume.
func (e *Engine) Bursts(tabID string, m *filter.Model, column string, windowMinutes int64, multiplier float64) (*analytics.BurstResult, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return nil, err
	}
	return analytics.Bursts(tab, m, column, windowMinutes, multiplier)
}

// Coverage reports per-source event extents.
func (e *Engine) Coverage(tabID string, m *filter.Model, sourceColumn, timeColumn string) (*analytics.CoverageResult, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return nil, err
	}
	return analytics.Coverage(tab, m, sourceColumn, timeColumn)
}

// Stacking groups a column's values by frequency.
func (e *Engine) Stacking(tabID string, m *filter.Model, column string, byValue bool) (*analytics.StackingResult, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return nil, err
	}
	return analytics.Stacking(tab, m, column, byValue, e.cfg.Limits.StackingValues)
}

// MatchIOCs runs indicator patterns and optionally tags the hits.
func (e *Engine) MatchIOCs(tabID string, m *filter.Model, patterns []string, tagLabel string) (*analytics.IOCResult, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return nil, err
	}
	result, err := analytics.MatchIOCs(tab, m, patterns)
	if err != nil {
		return nil, err
	}
	if tagLabel != "" && len(result.MatchedRows) > 0 {
		if err := mutate(tab, func() error { return tab.SetTags(result.MatchedRows, tagLabel, true) }); err != nil {
			return nil, fmt.Errorf("ioc auto-tagging failed: %w", err)
		}
	}
	return result, nil
}

// ProcessTree reconstructs process ancestry.
func (e *Engine) ProcessTree(tabID string, m *filter.Model) (*proctree.Result, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return nil, err
	}
	return proctree.Build(tab, m)
}

// LateralMovement builds the movement graph.
func (e *Engine) LateralMovement(tabID string, m *filter.Model, opts lateral.Options) (*lateral.Result, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return nil, err
	}
	return lateral.Build(tab, m, opts)
}

// PersistenceScan runs the persistence rule engines.
func (e *Engine) PersistenceScan(tabID string, m *filter.Model, opts persistence.Options) (*persistence.Result, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return nil, err
	}
	return persistence.Scan(tab, m, opts)
}

// Merge builds a merged super-timeline tab.
func (e *Engine) Merge(name string, sources []analytics.MergeSource, progress func(analytics.MergeProgress)) (*tabstore.Tab, error) {
	return analytics.Merge(e.registry, name, sources, progress)
}

// Export writes filtered rows to CSV/TSV/XLSX.
func (e *Engine) Export(tabID string, opts export.Options) (int64, error) {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return 0, err
	}
	return export.Export(tab, opts)
}

// Report writes the HTML report for a tab.
func (e *Engine) Report(tabID, outPath string) error {
	tab, err := e.registry.Get(tabID)
	if err != nil {
		return err
	}
	return export.Report(tab, outPath)
}

// SessionState carries the UI-owned state the core persists verbatim.
type SessionState struct {
	Filters map[string]*filter.Model `json:"filters,omitempty"` // tab id -> filter
	GroupBy map[string][]string      `json:"groupBy,omitempty"` // tab id -> group columns
	Active  string                   `json:"active,omitempty"`  // tab id
}

// SaveSession captures every open tab into a session file.
func (e *Engine) SaveSession(path string, state SessionState) error {
	s := &session.Session{}
	for _, tab := range e.registry.List() {
		var filters *filter.Model
		var groupBy []string
		if state.Filters != nil {
			filters = state.Filters[tab.ID]
		}
		if state.GroupBy != nil {
			groupBy = state.GroupBy[tab.ID]
		}
		ts, err := session.CaptureTab(tab, filters, e.sheetNames[tab.SourcePath], groupBy)
		if err != nil {
			return fmt.Errorf("capture of tab %s failed: %w", tab.Name, err)
		}
		s.Tabs = append(s.Tabs, ts)
		if tab.ID == state.Active {
			s.ActiveTab = tab.Name
		}
	}
	return session.Save(path, s)
}

// RestoreResult reports a session load: restored tab ids by name, and
// per-tab failures (missing files fail individually, never the load).
type RestoreResult struct {
	Restored map[string]string `json:"restored"` // tab name -> new tab id
	Failed   map[string]string `json:"failed"`   // tab name -> error
	Session  *session.Session  `json:"session"`
}

// LoadSession re-imports each file in the session and restores
// bookmarks, tags, and color rules onto the new tabs.
func (e *Engine) LoadSession(path string) (*RestoreResult, error) {
	s, err := session.Load(path)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{
		Restored: make(map[string]string),
		Failed:   make(map[string]string),
		Session:  s,
	}
	for _, ts := range s.Tabs {
		tab, err := e.ImportAndWait(ts.FilePath, ts.SheetName)
		if err != nil {
			e.log.Warn("session tab restore failed", "tab", ts.Name, "path", ts.FilePath, "error", err)
			result.Failed[ts.Name] = err.Error()
			continue
		}
		if err := mutate(tab, func() error { return session.RestoreTab(tab, ts) }); err != nil {
			result.Failed[ts.Name] = err.Error()
			continue
		}
		result.Restored[ts.Name] = tab.ID
	}
	return result, nil
}

// PresetsPath exposes the configured preset location.
func (e *Engine) PresetsPath() string { return e.cfg.PresetsPath() }
