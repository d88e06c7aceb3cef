package tabstore

import (
	"database/sql"
	"regexp"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/r3nzsec/irflow-timeline/internal/logging"
)

// DriverName is the sqlite3 driver variant carrying the registered scalar
// functions. Every tab store connection opens through this driver so the
// functions are available inside WHERE and ORDER BY.
const DriverName = "sqlite3_irflow"

var registerDriverOnce sync.Once

// regexCache caches compiled case-insensitive patterns across REGEXP calls.
// A query evaluates the same pattern once per row; compiling per call would
// dominate query time.
var regexCache = struct {
	sync.RWMutex
	compiled map[string]*regexp.Regexp
	invalid  map[string]struct{}
}{
	compiled: make(map[string]*regexp.Regexp),
	invalid:  make(map[string]struct{}),
}

func compilePattern(pattern string) *regexp.Regexp {
	regexCache.RLock()
	re := regexCache.compiled[pattern]
	_, bad := regexCache.invalid[pattern]
	regexCache.RUnlock()
	if re != nil || bad {
		return re
	}

	regexCache.Lock()
	defer regexCache.Unlock()
	if re := regexCache.compiled[pattern]; re != nil {
		return re
	}
	if _, bad := regexCache.invalid[pattern]; bad {
		return nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		// Invalid patterns degrade to "match nothing" rather than
		// failing the whole query.
		logging.GetLogger("tabstore").Warn("invalid regex pattern", "pattern", pattern, "error", err)
		regexCache.invalid[pattern] = struct{}{}
		return nil
	}
	regexCache.compiled[pattern] = re
	return re
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return ""
	}
}

// registerDriver registers the sqlite3 driver variant once per process.
func registerDriver() {
	registerDriverOnce.Do(func() {
		sql.Register(DriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				if err := conn.RegisterFunc("extract_date", func(v interface{}) interface{} {
					d, ok := ExtractDate(asString(v))
					if !ok {
						return nil
					}
					return d
				}, true); err != nil {
					return err
				}
				if err := conn.RegisterFunc("extract_datetime_minute", func(v interface{}) interface{} {
					d, ok := ExtractDatetimeMinute(asString(v))
					if !ok {
						return nil
					}
					return d
				}, true); err != nil {
					return err
				}
				if err := conn.RegisterFunc("sort_datetime", func(v interface{}) interface{} {
					if v == nil {
						return nil
					}
					return SortDatetime(asString(v))
				}, true); err != nil {
					return err
				}
				if err := conn.RegisterFunc("regexp", func(pattern, value interface{}) bool {
					re := compilePattern(asString(pattern))
					if re == nil {
						return false
					}
					return re.MatchString(asString(value))
				}, true); err != nil {
					return err
				}
				if err := conn.RegisterFunc("fuzzy_match", func(term, value interface{}) bool {
					return fuzzyMatch(asString(term), asString(value))
				}, true); err != nil {
					return err
				}
				return nil
			},
		})
	})
}
