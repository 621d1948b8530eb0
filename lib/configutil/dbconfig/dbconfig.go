package dbconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Struct describes a SQL database, exactly one of File (local sqlite), LibsqlURL
// (remote libsql/turso) or PostgresDSN should be set.
type Struct struct {
	File        string `json:"file"`
	LibsqlURL   string `json:"libsql_url"`
	LibsqlToken string `json:"libsql_token"`
	PostgresDSN string `json:"postgres_dsn"`
}

func (config Struct) Empty() bool {
	return config.File == "" && config.LibsqlURL == "" && config.PostgresDSN == ""
}

func (config Struct) Open() (*sqlx.DB, error) {
	switch {
	case config.PostgresDSN != "":
		db, err := sqlx.Connect("pgx", config.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return db, nil
	case config.LibsqlURL != "":
		u, err := url.Parse(config.LibsqlURL)
		if err != nil {
			return nil, err
		}
		if config.LibsqlToken != "" {
			q := u.Query()
			q.Set("authToken", config.LibsqlToken)
			u.RawQuery = q.Encode()
		}
		db, err := sqlx.Connect("libsql", u.String())
		if err != nil {
			return nil, fmt.Errorf("connect libsql: %w", err)
		}
		return db, nil
	case config.File != "":
		return OpenSqlite(config.File)
	}
	return nil, fmt.Errorf("a database was not specified")
}

// OpenSqlite opens (creating if needed) a sqlite database, ":memory:" is accepted.
func OpenSqlite(path string) (*sqlx.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer, see https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}
