// Package sitememory persists per-origin learned state (cookies, extraction
// patterns, timing statistics, success rates) in a local SQLite file so
// repeat visits to a site start from what earlier sessions discovered.
package sitememory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// schemaVersion is the highest schema this build knows how to migrate to.
const schemaVersion = 2

// perfWindowCap bounds each rolling performance window.
const perfWindowCap = 100

// emaAlpha is the smoothing factor for the per-origin success rate.
const emaAlpha = 0.1

// PerfSample is one observed page-load measurement, in seconds.
type PerfSample struct {
	LoadTime     float64 `json:"load_time"`
	DOMReady     float64 `json:"dom_ready"`
	ResponseTime float64 `json:"response_time"`
}

// PerfMetrics holds the rolling measurement windows plus their running
// averages. Windows are capped at perfWindowCap samples, oldest dropped.
type PerfMetrics struct {
	LoadTimes       []float64 `json:"load_times"`
	DOMReadyTimes   []float64 `json:"dom_ready_times"`
	ResponseTimes   []float64 `json:"response_times"`
	AvgLoadTime     float64   `json:"avg_load_time"`
	AvgDOMReady     float64   `json:"avg_dom_ready"`
	AvgResponseTime float64   `json:"avg_response_time"`
}

func (m *PerfMetrics) add(s PerfSample) {
	m.LoadTimes = appendCapped(m.LoadTimes, s.LoadTime)
	m.DOMReadyTimes = appendCapped(m.DOMReadyTimes, s.DOMReady)
	m.ResponseTimes = appendCapped(m.ResponseTimes, s.ResponseTime)
	m.AvgLoadTime = mean(m.LoadTimes)
	m.AvgDOMReady = mean(m.DOMReadyTimes)
	m.AvgResponseTime = mean(m.ResponseTimes)
}

func appendCapped(window []float64, v float64) []float64 {
	window = append(window, v)
	if len(window) > perfWindowCap {
		window = window[len(window)-perfWindowCap:]
	}
	return window
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// Record is one origin's remembered state.
type Record struct {
	Origin              string            `json:"site_url"`
	SessionData         map[string]any    `json:"session_data"`
	Cookies             []map[string]any  `json:"cookies"`
	LastAccessed        time.Time         `json:"last_accessed"`
	AccessCount         int64             `json:"access_count"`
	SuccessRate         float64           `json:"success_rate"`
	CustomData          map[string]any    `json:"custom_data"`
	ExtractionPatterns  map[string]any    `json:"extraction_patterns"`
	Performance         PerfMetrics       `json:"performance_metrics"`
	TimingPatterns      map[string]any    `json:"timing_patterns"`
	SiteCharacteristics map[string]any    `json:"site_characteristics"`
	AntiDetectionRules  map[string]any    `json:"anti_detection_rules"`
	OptimalSelectors    map[string]string `json:"optimal_selectors"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func newRecord(origin string) *Record {
	now := time.Now()
	return &Record{
		Origin:              origin,
		SessionData:         map[string]any{},
		CustomData:          map[string]any{},
		ExtractionPatterns:  map[string]any{},
		TimingPatterns:      map[string]any{},
		SiteCharacteristics: map[string]any{},
		AntiDetectionRules:  map[string]any{},
		OptimalSelectors:    map[string]string{},
		LastAccessed:        now,
		CreatedAt:           now,
	}
}

// Store is the SQLite-backed site memory. All writes are serialized by a
// single writer lock so read-modify-write updates never lose fields to a
// concurrent writer.
type Store struct {
	db  *sql.DB
	ttl time.Duration

	// writeMu serializes every mutating path end to end.
	writeMu sync.Mutex

	stopCh    chan struct{}
	closeOnce sync.Once
}

// Open creates or opens the site memory database at path, creating parent
// directories and applying pending migrations.
func Open(path string, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create site memory directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open site memory database: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between the pool's handles.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, ttl: ttl, stopCh: make(chan struct{})}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Dur("ttl", ttl).Msg("Site memory store opened")
	return s, nil
}

// migrate brings the schema to the current version. Column additions are
// best-effort: a failed ALTER is logged and skipped so a partially migrated
// database still serves the columns it has.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS site_memory (
			site_url TEXT PRIMARY KEY,
			session_data TEXT,
			cookies TEXT,
			last_accessed REAL,
			access_count INTEGER,
			success_rate REAL,
			custom_data TEXT,
			created_at REAL
		);
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			migrated_at REAL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize site memory schema: %w", err)
	}

	var current sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if !current.Valid {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version, migrated_at) VALUES (1, ?)`, unixNow()); err != nil {
			return fmt.Errorf("failed to record schema baseline: %w", err)
		}
		current.Int64 = 1
	}

	if current.Int64 < 2 {
		v2Columns := map[string]string{
			"extraction_patterns":  "TEXT",
			"performance_metrics":  "TEXT",
			"timing_patterns":      "TEXT",
			"site_characteristics": "TEXT",
			"anti_detection_rules": "TEXT",
			"optimal_selectors":    "TEXT",
			"updated_at":           "REAL",
		}
		for col, typ := range v2Columns {
			if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE site_memory ADD COLUMN %s %s`, col, typ)); err != nil {
				log.Warn().Str("column", col).Err(err).Msg("Site memory column migration failed, continuing")
			}
		}
		if _, err := s.db.Exec(`INSERT OR REPLACE INTO schema_version (version, migrated_at) VALUES (?, ?)`,
			schemaVersion, unixNow()); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		log.Info().Int("version", schemaVersion).Msg("Site memory schema migrated")
	}

	return nil
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

const recordColumns = `session_data, cookies, last_accessed, access_count, success_rate,
	custom_data, extraction_patterns, performance_metrics, timing_patterns,
	site_characteristics, anti_detection_rules, optimal_selectors, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(origin string, row rowScanner) (*Record, error) {
	var (
		sessionData, cookies, customData          sql.NullString
		extraction, perf, timing, characteristics sql.NullString
		antiDetection, selectors                  sql.NullString
		lastAccessed, createdAt, updatedAt        sql.NullFloat64
		accessCount                               sql.NullInt64
		successRate                               sql.NullFloat64
	)
	err := row.Scan(&sessionData, &cookies, &lastAccessed, &accessCount, &successRate,
		&customData, &extraction, &perf, &timing, &characteristics,
		&antiDetection, &selectors, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec := newRecord(origin)
	rec.LastAccessed = fromUnix(lastAccessed.Float64)
	rec.AccessCount = accessCount.Int64
	rec.SuccessRate = successRate.Float64
	rec.CreatedAt = fromUnix(createdAt.Float64)
	rec.UpdatedAt = fromUnix(updatedAt.Float64)
	decodeJSON(sessionData, &rec.SessionData, origin, "session_data")
	decodeJSON(cookies, &rec.Cookies, origin, "cookies")
	decodeJSON(customData, &rec.CustomData, origin, "custom_data")
	decodeJSON(extraction, &rec.ExtractionPatterns, origin, "extraction_patterns")
	decodeJSON(perf, &rec.Performance, origin, "performance_metrics")
	decodeJSON(timing, &rec.TimingPatterns, origin, "timing_patterns")
	decodeJSON(characteristics, &rec.SiteCharacteristics, origin, "site_characteristics")
	decodeJSON(antiDetection, &rec.AntiDetectionRules, origin, "anti_detection_rules")
	decodeJSON(selectors, &rec.OptimalSelectors, origin, "optimal_selectors")
	return rec, nil
}

func fromUnix(sec float64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(sec*float64(time.Second)))
}

func decodeJSON(src sql.NullString, dst any, origin, field string) {
	if !src.Valid || src.String == "" {
		return
	}
	if err := json.Unmarshal([]byte(src.String), dst); err != nil {
		log.Warn().Str("origin", origin).Str("field", field).Err(err).Msg("Corrupt site memory blob ignored")
	}
}

func encodeJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Get loads the record for origin, or nil when none exists.
func (s *Store) Get(ctx context.Context, origin string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM site_memory WHERE site_url = ?`, origin)
	rec, err := scanRecord(origin, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load site memory for %s: %w", origin, err)
	}
	return rec, nil
}

// Put inserts or replaces the record wholesale.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.put(ctx, s.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) put(ctx context.Context, db execer, rec *Record) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO site_memory
			(site_url, `+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Origin,
		encodeJSON(rec.SessionData),
		encodeJSON(rec.Cookies),
		toUnix(rec.LastAccessed),
		rec.AccessCount,
		rec.SuccessRate,
		encodeJSON(rec.CustomData),
		encodeJSON(rec.ExtractionPatterns),
		encodeJSON(rec.Performance),
		encodeJSON(rec.TimingPatterns),
		encodeJSON(rec.SiteCharacteristics),
		encodeJSON(rec.AntiDetectionRules),
		encodeJSON(rec.OptimalSelectors),
		toUnix(rec.CreatedAt),
		toUnix(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save site memory for %s: %w", rec.Origin, err)
	}
	return nil
}

func toUnix(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// update runs a read-modify-write on one origin inside a transaction held
// under the writer lock. Absent rows are materialized first.
func (s *Store) update(ctx context.Context, origin string, mutate func(*Record)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin site memory update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM site_memory WHERE site_url = ?`, origin)
	rec, err := scanRecord(origin, row)
	if errors.Is(err, sql.ErrNoRows) {
		rec = newRecord(origin)
	} else if err != nil {
		return fmt.Errorf("failed to load site memory for %s: %w", origin, err)
	}

	mutate(rec)

	if err := s.put(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateAccess bumps the access counters and folds the outcome into the
// success-rate EMA. A perf sample, when provided, lands in the rolling
// performance windows.
func (s *Store) UpdateAccess(ctx context.Context, origin string, success bool, perf *PerfSample) error {
	return s.update(ctx, origin, func(rec *Record) {
		firstAccess := rec.AccessCount == 0
		rec.AccessCount++
		rec.LastAccessed = time.Now()

		outcome := 0.0
		if success {
			outcome = 1.0
		}
		if firstAccess {
			rec.SuccessRate = outcome
		} else {
			rec.SuccessRate = (1-emaAlpha)*rec.SuccessRate + emaAlpha*outcome
		}

		if perf != nil {
			rec.Performance.add(*perf)
		}
	})
}

// UpdateExtractionPatterns merges learned extraction hints for the origin.
func (s *Store) UpdateExtractionPatterns(ctx context.Context, origin string, patterns map[string]any) error {
	return s.update(ctx, origin, func(rec *Record) {
		mergeInto(rec.ExtractionPatterns, patterns)
	})
}

// UpdateTimingPatterns merges observed timing behavior for the origin.
func (s *Store) UpdateTimingPatterns(ctx context.Context, origin string, timing map[string]any) error {
	return s.update(ctx, origin, func(rec *Record) {
		mergeInto(rec.TimingPatterns, timing)
	})
}

// UpdateSiteCharacteristics merges detected page traits for the origin.
func (s *Store) UpdateSiteCharacteristics(ctx context.Context, origin string, traits map[string]any) error {
	return s.update(ctx, origin, func(rec *Record) {
		mergeInto(rec.SiteCharacteristics, traits)
	})
}

// UpdateAntiDetectionRules merges block-avoidance adjustments for the origin.
func (s *Store) UpdateAntiDetectionRules(ctx context.Context, origin string, rules map[string]any) error {
	return s.update(ctx, origin, func(rec *Record) {
		mergeInto(rec.AntiDetectionRules, rules)
	})
}

// UpdateOptimalSelectors records the selectors that worked per content slot.
func (s *Store) UpdateOptimalSelectors(ctx context.Context, origin string, selectors map[string]string) error {
	return s.update(ctx, origin, func(rec *Record) {
		for k, v := range selectors {
			rec.OptimalSelectors[k] = v
		}
	})
}

// UpdateCookies replaces the remembered cookie snapshot for the origin.
func (s *Store) UpdateCookies(ctx context.Context, origin string, cookies []map[string]any) error {
	return s.update(ctx, origin, func(rec *Record) {
		rec.Cookies = cookies
	})
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

// cleanupTimeout bounds each scheduled cleanup sweep.
const cleanupTimeout = 30 * time.Second

// StartCleanup sweeps expired rows every interval until Close. Without it
// rows only leave the database when their origin is never visited again,
// which is exactly when nothing would ever delete them.
func (s *Store) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
				if _, err := s.CleanupExpired(ctx); err != nil {
					log.Warn().Err(err).Msg("Scheduled site memory cleanup failed")
				}
				cancel()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// CleanupExpired deletes rows whose last access is older than the TTL and
// returns how many were removed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM site_memory WHERE ? - last_accessed > ?`,
		unixNow(), s.ttl.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up site memory: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Expired site memories removed")
	}
	return deleted, nil
}

// Stats summarizes the store for the status endpoint.
type Stats struct {
	TotalSites       int64   `json:"total_sites"`
	AvgSuccessRate   float64 `json:"avg_success_rate"`
	AvgAccessCount   float64 `json:"avg_access_count"`
	MostRecentAccess float64 `json:"most_recent_access"`
	TTLSeconds       float64 `json:"ttl"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{TTLSeconds: s.ttl.Seconds()}
	var avgRate, avgCount, recent sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(success_rate), AVG(access_count), MAX(last_accessed)
		FROM site_memory`).Scan(&st.TotalSites, &avgRate, &avgCount, &recent)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute site memory stats: %w", err)
	}
	st.AvgSuccessRate = avgRate.Float64
	st.AvgAccessCount = avgCount.Float64
	st.MostRecentAccess = recent.Float64
	return st, nil
}

// TopSite is one row of the leaderboard view.
type TopSite struct {
	Origin       string    `json:"site_url"`
	Domain       string    `json:"domain"`
	AccessCount  int64     `json:"access_count"`
	SuccessRate  float64   `json:"success_rate"`
	LastAccessed time.Time `json:"last_accessed"`
}

// topSortColumns whitelists the ORDER BY targets for Top.
var topSortColumns = map[string]string{
	"access_count":  "access_count DESC",
	"success_rate":  "success_rate DESC",
	"last_accessed": "last_accessed DESC",
}

// Top returns up to limit origins ordered by sortBy, one of access_count,
// success_rate, or last_accessed.
func (s *Store) Top(ctx context.Context, limit int, sortBy string) ([]TopSite, error) {
	order, ok := topSortColumns[sortBy]
	if !ok {
		order = topSortColumns["access_count"]
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT site_url, access_count, success_rate, last_accessed
		 FROM site_memory ORDER BY `+order+` LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top sites: %w", err)
	}
	defer rows.Close()

	var out []TopSite
	for rows.Next() {
		var (
			site         TopSite
			lastAccessed sql.NullFloat64
			count        sql.NullInt64
			rate         sql.NullFloat64
		)
		if err := rows.Scan(&site.Origin, &count, &rate, &lastAccessed); err != nil {
			return nil, fmt.Errorf("failed to scan top site row: %w", err)
		}
		site.AccessCount = count.Int64
		site.SuccessRate = rate.Float64
		site.LastAccessed = fromUnix(lastAccessed.Float64)
		site.Domain = RegistrableDomain(site.Origin)
		out = append(out, site)
	}
	return out, rows.Err()
}

// SearchByPattern returns records whose extraction patterns, characteristics,
// or custom data carry key with the given value, grouped by registrable
// domain.
func (s *Store) SearchByPattern(ctx context.Context, key string, value any) (map[string][]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT site_url FROM site_memory`)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate site memory: %w", err)
	}
	defer rows.Close()

	var origins []string
	for rows.Next() {
		var origin string
		if err := rows.Scan(&origin); err != nil {
			return nil, fmt.Errorf("failed to scan site memory origin: %w", err)
		}
		origins = append(origins, origin)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	want := fmt.Sprint(value)
	grouped := make(map[string][]*Record)
	for _, origin := range origins {
		rec, err := s.Get(ctx, origin)
		if err != nil || rec == nil {
			continue
		}
		if blobHas(rec.ExtractionPatterns, key, want) ||
			blobHas(rec.SiteCharacteristics, key, want) ||
			blobHas(rec.CustomData, key, want) {
			domain := RegistrableDomain(origin)
			grouped[domain] = append(grouped[domain], rec)
		}
	}
	return grouped, nil
}

func blobHas(blob map[string]any, key, want string) bool {
	v, ok := blob[key]
	return ok && fmt.Sprint(v) == want
}

// Close stops the cleanup loop and releases the database handle.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.stopCh) })
	return s.db.Close()
}
