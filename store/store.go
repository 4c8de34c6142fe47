package store

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/tunedeck/tunedeck/errors"
	"github.com/tunedeck/tunedeck/models"
)

// Connection pool defaults
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 30 * time.Minute
	DefaultConnMaxIdleTime = 5 * time.Minute
	DefaultHealthCheck     = true
	HealthCheckInterval    = 30 * time.Second
)

// HistoryPageSize is the internal batch size for history reads; reads
// paginate transparently until the result set is exhausted.
const HistoryPageSize = 500

type Store struct {
	conn         *sql.DB
	logger       *logrus.Logger
	mu           sync.RWMutex
	pool         *PoolConfig
	shutdownChan chan struct{}
}

// PoolConfig holds database connection pool settings
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	HealthCheck     bool
}

func New(dbPath string, logger *logrus.Logger) (*Store, error) {
	return NewWithPool(dbPath, logger, DefaultPoolConfig())
}

// NewWithPool creates a new store with custom pool configuration
func NewWithPool(dbPath string, logger *logrus.Logger, poolConfig *PoolConfig) (*Store, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryStore, "CONNECTION_FAILED", "failed to open database").
			WithContext("path", dbPath)
	}

	conn.SetMaxOpenConns(poolConfig.MaxOpenConns)
	conn.SetMaxIdleConns(poolConfig.MaxIdleConns)
	conn.SetConnMaxLifetime(poolConfig.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(poolConfig.ConnMaxIdleTime)

	if err := conn.Ping(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryStore, "CONNECTION_FAILED", "failed to ping database").
			WithContext("path", dbPath)
	}

	s := &Store{
		conn:         conn,
		logger:       logger,
		pool:         poolConfig,
		shutdownChan: make(chan struct{}),
	}

	if err := s.createTables(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryStore, "MIGRATION_FAILED", "failed to create database tables").
			WithContext("path", dbPath)
	}

	if poolConfig.HealthCheck {
		go s.healthCheckLoop()
	}

	return s, nil
}

// DefaultPoolConfig returns default connection pool configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxOpenConns:    DefaultMaxOpenConns,
		MaxIdleConns:    DefaultMaxIdleConns,
		ConnMaxLifetime: DefaultConnMaxLifetime,
		ConnMaxIdleTime: DefaultConnMaxIdleTime,
		HealthCheck:     DefaultHealthCheck,
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.shutdownChan:
		// Already closed
	default:
		close(s.shutdownChan)
	}

	if err := s.conn.Close(); err != nil {
		return errors.Wrap(err, errors.CategoryStore, "CLOSE_FAILED", "failed to close database connection")
	}
	return nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS play_history (
			user_id TEXT NOT NULL,
			played_at INTEGER NOT NULL,
			track_id TEXT NOT NULL,
			track_name TEXT NOT NULL,
			artist_name TEXT NOT NULL,
			album_name TEXT,
			artist_ids TEXT NOT NULL,
			genres TEXT NOT NULL,
			image_url TEXT,
			uri TEXT,
			spotify_url TEXT,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, played_at)
		)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			user_id TEXT PRIMARY KEY,
			timeframe TEXT NOT NULL,
			exclude_listened INTEGER NOT NULL DEFAULT 1,
			genres TEXT NOT NULL DEFAULT '[]',
			discovery_genres TEXT NOT NULL DEFAULT '[]',
			excluded_genres TEXT NOT NULL DEFAULT '[]',
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS result_cache (
			user_id TEXT NOT NULL,
			cache_key TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, cache_key)
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			refresh_token TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_play_history_expires ON play_history(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_result_cache_expires ON result_cache(expires_at)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return errors.Wrap(err, errors.CategoryStore, "MIGRATION_FAILED", "failed to execute table creation query").
				WithContext("query", query)
		}
	}

	return nil
}

// WritePlayRecords persists play records with idempotent overwrite
// semantics: a record with an existing (user_id, played_at) key replaces
// the prior row instead of appending. Returns the number of records
// written; individual record failures are logged and skipped.
func (s *Store) WritePlayRecords(records []models.PlayRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryStore, "TRANSACTION_FAILED", "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO play_history
		(user_id, played_at, track_id, track_name, artist_name, album_name, artist_ids, genres, image_url, uri, spotify_url, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "failed to prepare play record insert statement")
	}
	defer stmt.Close()

	written := 0
	for _, rec := range records {
		if rec.UserID == "" || rec.TrackID == "" {
			continue
		}

		artistIDs, err := json.Marshal(rec.ArtistIDs)
		if err != nil {
			artistIDs = []byte("[]")
		}
		genres, err := json.Marshal(rec.Genres)
		if err != nil {
			genres = []byte("[]")
		}

		_, err = stmt.Exec(rec.UserID, rec.PlayedAt, rec.TrackID, rec.TrackName, rec.ArtistName,
			rec.AlbumName, string(artistIDs), string(genres), rec.ImageURL, rec.URI, rec.SpotifyURL, rec.ExpiresAt)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"userID":   rec.UserID,
				"playedAt": rec.PlayedAt,
			}).Error("Failed to insert play record")
			continue
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, errors.CategoryStore, "TRANSACTION_FAILED", "failed to commit transaction").
			WithContext("records", len(records))
	}

	return written, nil
}

// GetPlayHistory returns every non-expired play record for a user with
// played_at >= cutoffMs, oldest first, paginating internally until the
// result set is exhausted.
func (s *Store) GetPlayHistory(userID string, cutoffMs int64) ([]models.PlayRecord, error) {
	if userID == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "userID")
	}

	now := time.Now().Unix()
	var records []models.PlayRecord
	offset := 0

	for {
		rows, err := s.conn.Query(`SELECT user_id, played_at, track_id, track_name, artist_name,
			COALESCE(album_name, ''), artist_ids, genres,
			COALESCE(image_url, ''), COALESCE(uri, ''), COALESCE(spotify_url, ''), expires_at
			FROM play_history
			WHERE user_id = ? AND played_at >= ? AND expires_at > ?
			ORDER BY played_at ASC LIMIT ? OFFSET ?`, userID, cutoffMs, now, HistoryPageSize, offset)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "failed to query play history").
				WithContext("userID", userID).
				WithContext("cutoffMs", cutoffMs)
		}

		batch, err := scanPlayRecords(rows, s.logger)
		if err != nil {
			return nil, err
		}

		records = append(records, batch...)
		if len(batch) < HistoryPageSize {
			break
		}
		offset += HistoryPageSize
	}

	return records, nil
}

func scanPlayRecords(rows *sql.Rows, logger *logrus.Logger) ([]models.PlayRecord, error) {
	defer rows.Close()

	var records []models.PlayRecord
	for rows.Next() {
		var rec models.PlayRecord
		var artistIDs, genres string
		err := rows.Scan(&rec.UserID, &rec.PlayedAt, &rec.TrackID, &rec.TrackName, &rec.ArtistName,
			&rec.AlbumName, &artistIDs, &genres, &rec.ImageURL, &rec.URI, &rec.SpotifyURL, &rec.ExpiresAt)
		if err != nil {
			logger.WithError(err).Error("Failed to scan play record")
			continue
		}

		if err := json.Unmarshal([]byte(artistIDs), &rec.ArtistIDs); err != nil {
			rec.ArtistIDs = nil
		}
		if err := json.Unmarshal([]byte(genres), &rec.Genres); err != nil {
			rec.Genres = nil
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "error occurred during play history iteration")
	}

	return records, nil
}

// DeleteExpired physically removes logically expired rows from the
// play-history log and the result cache.
func (s *Store) DeleteExpired() error {
	now := time.Now().Unix()

	res, err := s.conn.Exec(`DELETE FROM play_history WHERE expires_at <= ?`, now)
	if err != nil {
		return errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "failed to delete expired play records")
	}
	historyDeleted, _ := res.RowsAffected()

	res, err = s.conn.Exec(`DELETE FROM result_cache WHERE expires_at <= ?`, now)
	if err != nil {
		return errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "failed to delete expired cache entries")
	}
	cacheDeleted, _ := res.RowsAffected()

	if historyDeleted > 0 || cacheDeleted > 0 {
		s.logger.WithFields(logrus.Fields{
			"history": historyDeleted,
			"cache":   cacheDeleted,
		}).Debug("Swept expired rows")
	}

	return nil
}

// GetPreferences returns the user's saved preferences, or nil if the
// user has never saved any.
func (s *Store) GetPreferences(userID string) (*models.Preferences, error) {
	if userID == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "userID")
	}

	var prefs models.Preferences
	var excludeListened int
	var genres, discoveryGenres, excludedGenres string

	err := s.conn.QueryRow(`SELECT timeframe, exclude_listened, genres, discovery_genres, excluded_genres
		FROM preferences WHERE user_id = ?`, userID).
		Scan(&prefs.Timeframe, &excludeListened, &genres, &discoveryGenres, &excludedGenres)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "failed to query preferences").
			WithContext("userID", userID)
	}

	prefs.ExcludeListened = excludeListened != 0
	if err := json.Unmarshal([]byte(genres), &prefs.Genres); err != nil {
		prefs.Genres = nil
	}
	if err := json.Unmarshal([]byte(discoveryGenres), &prefs.DiscoveryGenres); err != nil {
		prefs.DiscoveryGenres = nil
	}
	if err := json.Unmarshal([]byte(excludedGenres), &prefs.ExcludedGenres); err != nil {
		prefs.ExcludedGenres = nil
	}

	return &prefs, nil
}

// SavePreferences fully replaces the user's saved preferences.
func (s *Store) SavePreferences(userID string, prefs models.Preferences) error {
	if userID == "" {
		return errors.ErrValidationFailed.WithContext("field", "userID")
	}

	genres, _ := json.Marshal(prefs.Genres)
	discoveryGenres, _ := json.Marshal(prefs.DiscoveryGenres)
	excludedGenres, _ := json.Marshal(prefs.ExcludedGenres)

	excludeListened := 0
	if prefs.ExcludeListened {
		excludeListened = 1
	}

	_, err := s.conn.Exec(`INSERT OR REPLACE INTO preferences
		(user_id, timeframe, exclude_listened, genres, discovery_genres, excluded_genres, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, prefs.Timeframe, excludeListened, string(genres), string(discoveryGenres), string(excludedGenres), time.Now().Unix())
	if err != nil {
		return errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "failed to save preferences").
			WithContext("userID", userID)
	}

	return nil
}

// GetCachedResult returns cached data for (user, key) if it has not
// expired. The second return value reports a cache hit.
func (s *Store) GetCachedResult(userID, cacheKey string) ([]byte, bool, error) {
	if userID == "" || cacheKey == "" {
		return nil, false, errors.ErrValidationFailed.WithContext("missing_fields", []string{"userID", "cacheKey"})
	}

	var data string
	var expiresAt int64
	err := s.conn.QueryRow(`SELECT data, expires_at FROM result_cache WHERE user_id = ? AND cache_key = ?`,
		userID, cacheKey).Scan(&data, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "failed to query result cache").
			WithContext("userID", userID).
			WithContext("cacheKey", cacheKey)
	}

	if expiresAt <= time.Now().Unix() {
		return nil, false, nil
	}

	return []byte(data), true, nil
}

// PutCachedResult stores data for (user, key), fully replacing any prior
// value.
func (s *Store) PutCachedResult(userID, cacheKey string, data []byte, ttl time.Duration) error {
	if userID == "" || cacheKey == "" {
		return errors.ErrValidationFailed.WithContext("missing_fields", []string{"userID", "cacheKey"})
	}

	now := time.Now().Unix()
	_, err := s.conn.Exec(`INSERT OR REPLACE INTO result_cache (user_id, cache_key, data, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, cacheKey, string(data), now, now+int64(ttl.Seconds()))
	if err != nil {
		return errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "failed to write result cache").
			WithContext("userID", userID).
			WithContext("cacheKey", cacheKey)
	}

	return nil
}

// InvalidateCachedResult removes the cached value for (user, key).
func (s *Store) InvalidateCachedResult(userID, cacheKey string) error {
	_, err := s.conn.Exec(`DELETE FROM result_cache WHERE user_id = ? AND cache_key = ?`, userID, cacheKey)
	if err != nil {
		return errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "failed to invalidate result cache").
			WithContext("userID", userID).
			WithContext("cacheKey", cacheKey)
	}
	return nil
}

// GetRefreshToken returns the stored upstream refresh token for a user,
// or "" if the user has no linked account.
func (s *Store) GetRefreshToken(userID string) (string, error) {
	if userID == "" {
		return "", errors.ErrValidationFailed.WithContext("field", "userID")
	}

	var token string
	err := s.conn.QueryRow(`SELECT refresh_token FROM accounts WHERE user_id = ?`, userID).Scan(&token)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "failed to query refresh token").
			WithContext("userID", userID)
	}

	return token, nil
}

// SaveRefreshToken links (or relinks) a user's upstream account.
func (s *Store) SaveRefreshToken(userID, refreshToken string) error {
	if userID == "" || refreshToken == "" {
		return errors.ErrValidationFailed.WithContext("missing_fields", []string{"userID", "refreshToken"})
	}

	_, err := s.conn.Exec(`INSERT OR REPLACE INTO accounts (user_id, refresh_token, updated_at) VALUES (?, ?, ?)`,
		userID, refreshToken, time.Now().Unix())
	if err != nil {
		return errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "failed to save refresh token").
			WithContext("userID", userID)
	}

	return nil
}

// DeleteAccount unlinks a user's upstream account.
func (s *Store) DeleteAccount(userID string) error {
	_, err := s.conn.Exec(`DELETE FROM accounts WHERE user_id = ?`, userID)
	if err != nil {
		return errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "failed to delete account").
			WithContext("userID", userID)
	}
	return nil
}

// ListLinkedUsers returns the ids of all users with a linked account,
// sorted for consistent batch ordering.
func (s *Store) ListLinkedUsers() ([]string, error) {
	rows, err := s.conn.Query(`SELECT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "failed to list linked users")
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			s.logger.WithError(err).Error("Failed to scan user id")
			continue
		}
		userIDs = append(userIDs, userID)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryStore, "QUERY_FAILED", "error occurred during user id iteration")
	}

	return userIDs, nil
}

// healthCheckLoop runs periodic health checks on the database connection
func (s *Store) healthCheckLoop() {
	ticker := time.NewTicker(HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.conn.Ping(); err != nil {
				s.logger.WithError(err).Error("Database health check failed")
				continue
			}
			stats := s.conn.Stats()
			s.logger.WithFields(logrus.Fields{
				"open_connections":   stats.OpenConnections,
				"idle_connections":   stats.Idle,
				"connections_in_use": stats.InUse,
			}).Debug("Database health check completed")
		case <-s.shutdownChan:
			s.logger.Debug("Database health check loop shutting down")
			return
		}
	}
}
