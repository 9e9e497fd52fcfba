package database

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

type Database struct {
	conn *sql.DB
}

func New(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &Database{conn: db}, nil
}

func (d *Database) Conn() *sql.DB {
	return d.conn
}

func (d *Database) Close() error {
	return d.conn.Close()
}

func (d *Database) Ping() error {
	return d.conn.Ping()
}

func (d *Database) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS site_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		site_key TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN DEFAULT true,
		created_at TIMESTAMP DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS challenges (
		id UUID PRIMARY KEY,
		token TEXT UNIQUE NOT NULL,
		site_key TEXT NOT NULL,
		action TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL,
		risk_level TEXT CHECK (risk_level IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL')) NOT NULL,
		bot_score INTEGER NOT NULL DEFAULT 0,
		vpn_detected BOOLEAN NOT NULL DEFAULT false,
		proxy_detected BOOLEAN NOT NULL DEFAULT false,
		tor_detected BOOLEAN NOT NULL DEFAULT false,
		abuse_score INTEGER NOT NULL DEFAULT 0,
		country TEXT NOT NULL DEFAULT '',
		verified BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP NOT NULL DEFAULT now(),
		expires_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS blacklist (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		entry_type TEXT CHECK (entry_type IN ('ip', 'fingerprint', 'email')) NOT NULL,
		value TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		permanent BOOLEAN NOT NULL DEFAULT false,
		expires_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT now(),
		UNIQUE (entry_type, value)
	);

	CREATE TABLE IF NOT EXISTS abuse_events (
		id UUID PRIMARY KEY,
		ip TEXT NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		site_key TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		severity TEXT CHECK (severity IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL')) NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_challenges_token ON challenges(token);
	CREATE INDEX IF NOT EXISTS idx_challenges_expires ON challenges(expires_at);
	CREATE INDEX IF NOT EXISTS idx_blacklist_value ON blacklist(entry_type, value);
	CREATE INDEX IF NOT EXISTS idx_abuse_events_ip ON abuse_events(ip);
	CREATE INDEX IF NOT EXISTS idx_abuse_events_created ON abuse_events(created_at);
	`
	_, err := d.conn.Exec(schema)
	return err
}
