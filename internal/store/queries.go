package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blackwell-systems/appmirror/internal/catalog"
	"github.com/blackwell-systems/appmirror/internal/marketplace"
)

// App operations

const upsertAppQuery = `
	INSERT INTO apps (addon_key, marketplace_id, name, vendor, products, hosting, marketplace_url, scraped_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(addon_key) DO UPDATE SET
		marketplace_id = CASE
			WHEN apps.marketplace_id IS NULL OR apps.marketplace_id = 0
			THEN excluded.marketplace_id
			ELSE apps.marketplace_id
		END,
		name = excluded.name,
		vendor = excluded.vendor,
		products = excluded.products,
		hosting = excluded.hosting,
		marketplace_url = excluded.marketplace_url,
		scraped_at = excluded.scraped_at,
		updated_at = CURRENT_TIMESTAMP
`

// UpsertApp inserts or updates a catalog entry. The numeric marketplace id is
// write-once: rediscovery refreshes names and products but never changes an
// already-set id. Product and hosting sets are unioned with what is already
// stored, since the same app is discovered once per host product.
func (s *Store) UpsertApp(e *catalog.Entry) error {
	return s.UpsertApps([]*catalog.Entry{e})
}

// UpsertApps upserts a batch of catalog entries in one transaction.
func (s *Store) UpsertApps(entries []*catalog.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsertAppQuery)
	if err != nil {
		return wrapErr("failed to prepare app upsert", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		merged := *e
		merged.Products, merged.Hosting, err = mergeSets(tx, e)
		if err != nil {
			return err
		}
		args, err := appUpsertArgs(&merged)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(args...); err != nil {
			return wrapErr(fmt.Sprintf("failed to upsert app %s", e.AddonKey), err)
		}
	}
	return tx.Commit()
}

// mergeSets unions the entry's products and hosting with the stored row, if
// any, preserving first-seen order.
func mergeSets(tx *sql.Tx, e *catalog.Entry) (products, hosting []string, err error) {
	var existingProducts, existingHosting string
	err = tx.QueryRow(`SELECT COALESCE(products, '[]'), COALESCE(hosting, '[]') FROM apps WHERE addon_key = ?`, e.AddonKey).
		Scan(&existingProducts, &existingHosting)
	if err == sql.ErrNoRows {
		return e.Products, e.Hosting, nil
	}
	if err != nil {
		return nil, nil, wrapErr(fmt.Sprintf("failed to read app %s", e.AddonKey), err)
	}

	products, err = unionJSON(existingProducts, e.Products)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to merge products for %s: %w", e.AddonKey, err)
	}
	hosting, err = unionJSON(existingHosting, e.Hosting)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to merge hosting for %s: %w", e.AddonKey, err)
	}
	return products, hosting, nil
}

func unionJSON(existingJSON string, add []string) ([]string, error) {
	var merged []string
	if err := json.Unmarshal([]byte(existingJSON), &merged); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(merged))
	for _, v := range merged {
		seen[v] = true
	}
	for _, v := range add {
		if !seen[v] {
			merged = append(merged, v)
			seen[v] = true
		}
	}
	return merged, nil
}

func appUpsertArgs(e *catalog.Entry) ([]any, error) {
	products, err := json.Marshal(e.Products)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal products for %s: %w", e.AddonKey, err)
	}
	hosting, err := json.Marshal(e.Hosting)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal hosting for %s: %w", e.AddonKey, err)
	}
	return []any{
		e.AddonKey,
		e.MarketplaceID,
		e.Name,
		e.Vendor,
		string(products),
		string(hosting),
		e.MarketplaceURL,
		formatTime(e.ScrapedAt),
	}, nil
}

// GetApp retrieves a catalog entry by addon key.
func (s *Store) GetApp(addonKey string) (*catalog.Entry, error) {
	row := s.db.QueryRow(`
		SELECT addon_key, COALESCE(marketplace_id, 0), name, COALESCE(vendor, ''),
		       COALESCE(products, '[]'), COALESCE(hosting, '[]'),
		       COALESCE(marketplace_url, ''), COALESCE(scraped_at, '')
		FROM apps WHERE addon_key = ?`, addonKey)

	var e catalog.Entry
	var products, hosting, scrapedAt string
	err := row.Scan(&e.AddonKey, &e.MarketplaceID, &e.Name, &e.Vendor, &products, &hosting, &e.MarketplaceURL, &scrapedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("app %s not found", addonKey)
	}
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("failed to get app %s", addonKey), err)
	}
	if err := json.Unmarshal([]byte(products), &e.Products); err != nil {
		return nil, fmt.Errorf("failed to unmarshal products for %s: %w", addonKey, err)
	}
	if err := json.Unmarshal([]byte(hosting), &e.Hosting); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hosting for %s: %w", addonKey, err)
	}
	e.ScrapedAt = parseTime(scrapedAt)
	return &e, nil
}

// ListAddonKeys returns all addon keys, optionally restricted to apps that
// support the given product. Keys come back in stable (sorted) order.
func (s *Store) ListAddonKeys(product string) ([]string, error) {
	query := `SELECT addon_key FROM apps ORDER BY addon_key`
	args := []any{}
	if product != "" {
		// products is a JSON array of strings; match the quoted element.
		query = `SELECT addon_key FROM apps WHERE products LIKE ? ORDER BY addon_key`
		args = append(args, `%"`+product+`"%`)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapErr("failed to list addon keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan addon key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// CountApps returns the number of catalog entries.
func (s *Store) CountApps() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM apps`).Scan(&n); err != nil {
		return 0, wrapErr("failed to count apps", err)
	}
	return n, nil
}

// Version operations

const upsertVersionQuery = `
	INSERT INTO versions (addon_key, version_id, version_name, build_number, release_date,
	                      hosting_type, compatibility, download_url, file_name, file_size)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(addon_key, version_id) DO UPDATE SET
		version_name = excluded.version_name,
		build_number = excluded.build_number,
		release_date = excluded.release_date,
		hosting_type = excluded.hosting_type,
		compatibility = excluded.compatibility,
		download_url = CASE WHEN excluded.download_url != '' THEN excluded.download_url ELSE versions.download_url END,
		file_name = CASE WHEN excluded.file_name != '' THEN excluded.file_name ELSE versions.file_name END,
		file_size = CASE WHEN excluded.file_size > 0 THEN excluded.file_size ELSE versions.file_size END
`

// UpsertVersions upserts a batch of version records in one transaction.
// The downloaded flag, file path, and download date are owned by the download
// stage and are never touched here.
func (s *Store) UpsertVersions(versions []*catalog.Version) error {
	if len(versions) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsertVersionQuery)
	if err != nil {
		return wrapErr("failed to prepare version upsert", err)
	}
	defer stmt.Close()

	for _, v := range versions {
		_, err := stmt.Exec(
			v.AddonKey,
			v.VersionID,
			v.VersionName,
			v.BuildNumber,
			formatTime(v.ReleaseDate),
			v.HostingType,
			v.Compatibility,
			v.DownloadURL,
			v.FileName,
			v.FileSize,
		)
		if err != nil {
			return wrapErr(fmt.Sprintf("failed to upsert version %s/%s", v.AddonKey, v.VersionID), err)
		}
	}
	return tx.Commit()
}

const versionColumns = `
	v.addon_key, v.version_id, COALESCE(v.version_name, ''), COALESCE(v.build_number, ''),
	COALESCE(v.release_date, ''), COALESCE(v.hosting_type, ''), COALESCE(v.compatibility, ''),
	COALESCE(v.download_url, ''), COALESCE(v.file_name, ''), COALESCE(v.file_size, 0),
	COALESCE(v.file_path, ''), v.downloaded, COALESCE(v.download_date, '')
`

func scanVersion(scanner interface{ Scan(...any) error }, v *catalog.Version) error {
	var releaseDate, downloadDate string
	err := scanner.Scan(
		&v.AddonKey, &v.VersionID, &v.VersionName, &v.BuildNumber,
		&releaseDate, &v.HostingType, &v.Compatibility,
		&v.DownloadURL, &v.FileName, &v.FileSize,
		&v.FilePath, &v.Downloaded, &downloadDate,
	)
	if err != nil {
		return err
	}
	v.ReleaseDate = parseTime(releaseDate)
	v.DownloadDate = parseTime(downloadDate)
	return nil
}

// ListVersions returns all version records for an app, newest first.
func (s *Store) ListVersions(addonKey string) ([]*catalog.Version, error) {
	rows, err := s.db.Query(`
		SELECT `+versionColumns+`
		FROM versions v WHERE v.addon_key = ?
		ORDER BY v.release_date DESC`, addonKey)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("failed to list versions for %s", addonKey), err)
	}
	defer rows.Close()

	var versions []*catalog.Version
	for rows.Next() {
		var v catalog.Version
		if err := scanVersion(rows, &v); err != nil {
			return nil, fmt.Errorf("failed to scan version for %s: %w", addonKey, err)
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// PendingVersions returns all version records not yet downloaded, joined with
// the owning app's marketplace id and products. product and addonKey filters
// are optional ("" disables them).
func (s *Store) PendingVersions(product, addonKey string) ([]*PendingVersion, error) {
	query := `
		SELECT ` + versionColumns + `, COALESCE(a.marketplace_id, 0), COALESCE(a.products, '[]')
		FROM versions v JOIN apps a ON a.addon_key = v.addon_key
		WHERE v.downloaded = 0`
	args := []any{}
	if product != "" {
		query += ` AND a.products LIKE ?`
		args = append(args, `%"`+product+`"%`)
	}
	if addonKey != "" {
		query += ` AND v.addon_key = ?`
		args = append(args, addonKey)
	}
	query += ` ORDER BY v.addon_key, v.version_id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapErr("failed to list pending versions", err)
	}
	defer rows.Close()

	var pending []*PendingVersion
	for rows.Next() {
		var p PendingVersion
		var releaseDate, downloadDate, products string
		err := rows.Scan(
			&p.AddonKey, &p.VersionID, &p.VersionName, &p.BuildNumber,
			&releaseDate, &p.HostingType, &p.Compatibility,
			&p.DownloadURL, &p.FileName, &p.FileSize,
			&p.FilePath, &p.Downloaded, &downloadDate,
			&p.MarketplaceID, &products,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending version: %w", err)
		}
		p.ReleaseDate = parseTime(releaseDate)
		p.DownloadDate = parseTime(downloadDate)
		if err := json.Unmarshal([]byte(products), &p.Products); err != nil {
			return nil, fmt.Errorf("failed to unmarshal products for %s: %w", p.AddonKey, err)
		}
		pending = append(pending, &p)
	}
	return pending, rows.Err()
}

// MarkDownloaded records a completed binary download for a version.
func (s *Store) MarkDownloaded(addonKey, versionID, filePath string, fileSize int64) error {
	res, err := s.db.Exec(`
		UPDATE versions
		SET downloaded = 1, file_path = ?, file_size = ?, download_date = ?
		WHERE addon_key = ? AND version_id = ?`,
		filePath, fileSize, formatTime(time.Now().UTC()), addonKey, versionID)
	if err != nil {
		return wrapErr(fmt.Sprintf("failed to mark %s/%s downloaded", addonKey, versionID), err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("version %s/%s not found", addonKey, versionID)
	}
	return nil
}

// CountVersions returns the total number of version records.
func (s *Store) CountVersions() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM versions`).Scan(&n); err != nil {
		return 0, wrapErr("failed to count versions", err)
	}
	return n, nil
}

// Failed download operations

// RecordFailedDownload appends a failed-download record.
func (s *Store) RecordFailedDownload(f *catalog.FailedDownload) error {
	_, err := s.db.Exec(`
		INSERT INTO failed_downloads (addon_key, version_id, url, error, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		f.AddonKey, f.VersionID, f.URL, f.Error, formatTime(f.Timestamp))
	if err != nil {
		return wrapErr(fmt.Sprintf("failed to record failed download %s/%s", f.AddonKey, f.VersionID), err)
	}
	return nil
}

// ListFailedDownloads returns the most recent failed-download records.
func (s *Store) ListFailedDownloads(limit int) ([]*catalog.FailedDownload, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT addon_key, version_id, COALESCE(url, ''), COALESCE(error, ''), timestamp
		FROM failed_downloads ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapErr("failed to list failed downloads", err)
	}
	defer rows.Close()

	var failed []*catalog.FailedDownload
	for rows.Next() {
		var f catalog.FailedDownload
		var ts string
		if err := rows.Scan(&f.AddonKey, &f.VersionID, &f.URL, &f.Error, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan failed download: %w", err)
		}
		f.Timestamp = parseTime(ts)
		failed = append(failed, &f)
	}
	return failed, rows.Err()
}

// Compatibility cache operations (marketplace.ParentVersionCache)

// GetParentVersion looks up a cached build→version mapping. Returns "" with
// no error when the mapping is not cached.
func (s *Store) GetParentVersion(parentID string, buildNumber int64) (string, error) {
	var v string
	err := s.db.QueryRow(`
		SELECT version_number FROM parent_versions
		WHERE parent_id = ? AND build_number = ?`, parentID, buildNumber).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapErr(fmt.Sprintf("failed to get parent version %s/%d", parentID, buildNumber), err)
	}
	return v, nil
}

// SaveParentVersions caches a batch of build→version mappings.
func (s *Store) SaveParentVersions(parentID string, versions []marketplace.ParentVersion) error {
	if len(versions) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO parent_versions (parent_id, build_number, version_number)
		VALUES (?, ?, ?)
		ON CONFLICT(parent_id, build_number) DO UPDATE SET version_number = excluded.version_number`)
	if err != nil {
		return wrapErr("failed to prepare parent version upsert", err)
	}
	defer stmt.Close()

	for _, v := range versions {
		if _, err := stmt.Exec(parentID, v.BuildNumber, v.VersionNumber); err != nil {
			return wrapErr(fmt.Sprintf("failed to save parent version %s/%d", parentID, v.BuildNumber), err)
		}
	}
	return tx.Commit()
}

// Summarize collects the counts shown by the status command.
func (s *Store) Summarize() (*Summary, error) {
	var sum Summary
	var err error
	if sum.Apps, err = s.CountApps(); err != nil {
		return nil, err
	}
	if sum.Versions, err = s.CountVersions(); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM versions WHERE downloaded = 1`).Scan(&sum.Downloaded); err != nil {
		return nil, wrapErr("failed to count downloaded versions", err)
	}
	sum.Pending = sum.Versions - sum.Downloaded
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM failed_downloads`).Scan(&sum.FailedDownloads); err != nil {
		return nil, wrapErr("failed to count failed downloads", err)
	}
	if err := s.db.QueryRow(`SELECT COALESCE(SUM(file_size), 0) FROM versions WHERE downloaded = 1`).Scan(&sum.ArtifactBytes); err != nil {
		return nil, wrapErr("failed to sum artifact bytes", err)
	}
	return &sum, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
