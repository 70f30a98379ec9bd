package config

import (
	"net"
	"net/url"
)

// PostgresDSN builds a connection URL from POSTGRES_* variables.
func PostgresDSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(EnvOr("POSTGRES_USER", "toolbox"), EnvOr("POSTGRES_PASSWORD", "changeme")),
		Host:     net.JoinHostPort(EnvOr("POSTGRES_HOST", "localhost"), EnvOr("POSTGRES_PORT", "5432")),
		Path:     EnvOr("POSTGRES_DB", "toolbox"),
		RawQuery: "sslmode=" + url.QueryEscape(EnvOr("POSTGRES_SSLMODE", "disable")),
	}
	return u.String()
}

// JournalDSN returns the journal driver and its DSN: JOURNAL_DRIVER selects
// "postgres" (default) or "sqlite", whose file is JOURNAL_SQLITE_PATH.
func JournalDSN() (driver, dsn string) {
	driver = EnvOr("JOURNAL_DRIVER", "postgres")
	if driver == "sqlite" {
		return driver, EnvOr("JOURNAL_SQLITE_PATH", "toolbox-journal.db")
	}
	return driver, PostgresDSN()
}
