package store

const schema = `
CREATE TABLE IF NOT EXISTS apps (
    addon_key TEXT PRIMARY KEY,
    marketplace_id INTEGER,
    name TEXT NOT NULL,
    vendor TEXT,
    products TEXT,
    hosting TEXT,
    marketplace_url TEXT,
    scraped_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS versions (
    addon_key TEXT NOT NULL,
    version_id TEXT NOT NULL,
    version_name TEXT,
    build_number TEXT,
    release_date TIMESTAMP,
    hosting_type TEXT,
    compatibility TEXT,
    download_url TEXT,
    file_name TEXT,
    file_size INTEGER DEFAULT 0,
    file_path TEXT,
    downloaded BOOLEAN DEFAULT 0,
    download_date TIMESTAMP,
    PRIMARY KEY (addon_key, version_id),
    FOREIGN KEY (addon_key) REFERENCES apps(addon_key) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS parent_versions (
    parent_id TEXT NOT NULL,
    build_number INTEGER NOT NULL,
    version_number TEXT NOT NULL,
    PRIMARY KEY (parent_id, build_number)
);

CREATE TABLE IF NOT EXISTS failed_downloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    addon_key TEXT NOT NULL,
    version_id TEXT NOT NULL,
    url TEXT,
    error TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_apps_name ON apps(name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_versions_addon_key ON versions(addon_key);
CREATE INDEX IF NOT EXISTS idx_versions_downloaded ON versions(downloaded);
CREATE INDEX IF NOT EXISTS idx_versions_release_date ON versions(addon_key, release_date DESC);
CREATE INDEX IF NOT EXISTS idx_failed_downloads_key ON failed_downloads(addon_key, version_id);
`
