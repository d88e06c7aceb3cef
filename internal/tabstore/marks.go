package tabstore

import (
	"fmt"
	"strings"
)

// Bookmarks are a set of row ids; tags are a set of (row id, label)
// pairs. Both use INSERT OR IGNORE / DELETE so repeated operations are
// idempotent. All mutations are gated while a background build runs and
// invalidate the count cache, since bookmark-only and tag filters change
// membership.

// ToggleBookmark flips the bookmark on one row. Returns the new state.
func (t *Tab) ToggleBookmark(rowID int64) (bool, error) {
	if t.Building() {
		return false, ErrBuildInProgress
	}

	res, err := t.db.Exec("DELETE FROM bookmarks WHERE row_id = ?", rowID)
	if err != nil {
		return false, fmt.Errorf("bookmark toggle failed: %w", err)
	}
	n, _ := res.RowsAffected()
	bookmarked := false
	if n == 0 {
		if _, err := t.db.Exec("INSERT OR IGNORE INTO bookmarks (row_id) VALUES (?)", rowID); err != nil {
			return false, fmt.Errorf("bookmark insert failed: %w", err)
		}
		bookmarked = true
	}
	t.InvalidateCount()
	return bookmarked, nil
}

// SetBookmarks bookmarks or unbookmarks a set of rows, batched against
// the host-parameter limit.
func (t *Tab) SetBookmarks(rowIDs []int64, on bool) error {
	if t.Building() {
		return ErrBuildInProgress
	}
	if len(rowIDs) == 0 {
		return nil
	}

	for start := 0; start < len(rowIDs); start += annotationBatch {
		end := start + annotationBatch
		if end > len(rowIDs) {
			end = len(rowIDs)
		}
		chunk := rowIDs[start:end]
		if on {
			var b strings.Builder
			b.WriteString("INSERT OR IGNORE INTO bookmarks (row_id) VALUES ")
			args := make([]interface{}, len(chunk))
			for i, id := range chunk {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString("(?)")
				args[i] = id
			}
			if _, err := t.db.Exec(b.String(), args...); err != nil {
				return fmt.Errorf("bulk bookmark failed: %w", err)
			}
		} else {
			q, args := inClause("DELETE FROM bookmarks WHERE row_id IN", chunk)
			if _, err := t.db.Exec(q, args...); err != nil {
				return fmt.Errorf("bulk unbookmark failed: %w", err)
			}
		}
	}
	t.InvalidateCount()
	return nil
}

// AddTag attaches a label to a row. Adding an existing pair is a no-op.
func (t *Tab) AddTag(rowID int64, label string) error {
	if t.Building() {
		return ErrBuildInProgress
	}
	if _, err := t.db.Exec("INSERT OR IGNORE INTO tags (row_id, tag) VALUES (?, ?)", rowID, label); err != nil {
		return fmt.Errorf("tag insert failed: %w", err)
	}
	t.InvalidateCount()
	return nil
}

// RemoveTag detaches a label from a row.
func (t *Tab) RemoveTag(rowID int64, label string) error {
	if t.Building() {
		return ErrBuildInProgress
	}
	if _, err := t.db.Exec("DELETE FROM tags WHERE row_id = ? AND tag = ?", rowID, label); err != nil {
		return fmt.Errorf("tag delete failed: %w", err)
	}
	t.InvalidateCount()
	return nil
}

// SetTags applies or removes one label across a set of rows, batched.
func (t *Tab) SetTags(rowIDs []int64, label string, on bool) error {
	if t.Building() {
		return ErrBuildInProgress
	}
	if len(rowIDs) == 0 {
		return nil
	}

	for start := 0; start < len(rowIDs); start += annotationBatch {
		end := start + annotationBatch
		if end > len(rowIDs) {
			end = len(rowIDs)
		}
		chunk := rowIDs[start:end]
		if on {
			var b strings.Builder
			b.WriteString("INSERT OR IGNORE INTO tags (row_id, tag) VALUES ")
			args := make([]interface{}, 0, len(chunk)*2)
			for i, id := range chunk {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString("(?, ?)")
				args = append(args, id, label)
			}
			if _, err := t.db.Exec(b.String(), args...); err != nil {
				return fmt.Errorf("bulk tag failed: %w", err)
			}
		} else {
			q, args := inClause("DELETE FROM tags WHERE tag = ? AND row_id IN", chunk)
			all := append([]interface{}{label}, args...)
			if _, err := t.db.Exec(q, all...); err != nil {
				return fmt.Errorf("bulk untag failed: %w", err)
			}
		}
	}
	t.InvalidateCount()
	return nil
}

// BookmarkedIn returns which of the given row ids are bookmarked.
func (t *Tab) BookmarkedIn(rowIDs []int64) (map[int64]bool, error) {
	out := make(map[int64]bool)
	for start := 0; start < len(rowIDs); start += annotationBatch {
		end := start + annotationBatch
		if end > len(rowIDs) {
			end = len(rowIDs)
		}
		q, args := inClause("SELECT row_id FROM bookmarks WHERE row_id IN", rowIDs[start:end])
		rows, err := t.db.Query(q, args...)
		if err != nil {
			return nil, fmt.Errorf("bookmark lookup failed: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("bookmark scan failed: %w", err)
			}
			out[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("bookmark lookup failed: %w", err)
		}
		rows.Close()
	}
	return out, nil
}

// TagsIn returns the tags attached to each of the given row ids.
func (t *Tab) TagsIn(rowIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string)
	for start := 0; start < len(rowIDs); start += annotationBatch {
		end := start + annotationBatch
		if end > len(rowIDs) {
			end = len(rowIDs)
		}
		q, args := inClause("SELECT row_id, tag FROM tags WHERE row_id IN", rowIDs[start:end])
		rows, err := t.db.Query(q+" ORDER BY tag", args...)
		if err != nil {
			return nil, fmt.Errorf("tag lookup failed: %w", err)
		}
		for rows.Next() {
			var id int64
			var tag string
			if err := rows.Scan(&id, &tag); err != nil {
				rows.Close()
				return nil, fmt.Errorf("tag scan failed: %w", err)
			}
			out[id] = append(out[id], tag)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("tag lookup failed: %w", err)
		}
		rows.Close()
	}
	return out, nil
}

// AllBookmarks returns every bookmarked row id in ascending order.
func (t *Tab) AllBookmarks() ([]int64, error) {
	rows, err := t.db.Query("SELECT row_id FROM bookmarks ORDER BY row_id")
	if err != nil {
		return nil, fmt.Errorf("bookmark listing failed: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("bookmark scan failed: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AllTags returns every (row id → labels) pair.
func (t *Tab) AllTags() (map[int64][]string, error) {
	rows, err := t.db.Query("SELECT row_id, tag FROM tags ORDER BY row_id, tag")
	if err != nil {
		return nil, fmt.Errorf("tag listing failed: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]string)
	for rows.Next() {
		var id int64
		var tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, fmt.Errorf("tag scan failed: %w", err)
		}
		out[id] = append(out[id], tag)
	}
	return out, rows.Err()
}

// TagLabels returns the distinct tag labels in use, sorted.
func (t *Tab) TagLabels() ([]string, error) {
	rows, err := t.db.Query("SELECT DISTINCT tag FROM tags ORDER BY tag")
	if err != nil {
		return nil, fmt.Errorf("tag label listing failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("tag label scan failed: %w", err)
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

// ColorRule is persisted with sessions but never evaluated by the core.
type ColorRule struct {
	Column    string `json:"column"`
	Condition string `json:"condition"`
	Value     string `json:"value"`
	BgColor   string `json:"bgColor"`
	FgColor   string `json:"fgColor"`
}

// SetColorRules replaces the stored color rules, preserving order.
func (t *Tab) SetColorRules(rules []ColorRule) error {
	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin color rule update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM color_rules"); err != nil {
		return fmt.Errorf("failed to clear color rules: %w", err)
	}
	for i, r := range rules {
		if _, err := tx.Exec(
			"INSERT INTO color_rules (position, column_name, condition, value, bg_color, fg_color) VALUES (?, ?, ?, ?, ?, ?)",
			i, r.Column, r.Condition, r.Value, r.BgColor, r.FgColor); err != nil {
			return fmt.Errorf("failed to store color rule: %w", err)
		}
	}
	return tx.Commit()
}

// ColorRules returns the stored color rules in order.
func (t *Tab) ColorRules() ([]ColorRule, error) {
	rows, err := t.db.Query(
		"SELECT column_name, condition, value, bg_color, fg_color FROM color_rules ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("color rule listing failed: %w", err)
	}
	defer rows.Close()

	var out []ColorRule
	for rows.Next() {
		var r ColorRule
		if err := rows.Scan(&r.Column, &r.Condition, &r.Value, &r.BgColor, &r.FgColor); err != nil {
			return nil, fmt.Errorf("color rule scan failed: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// inClause builds "<prefix> (?, ?, ...)" plus its args from a chunk of ids.
func inClause(prefix string, ids []int64) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return prefix + " (" + strings.Join(placeholders, ", ") + ")", args
}
