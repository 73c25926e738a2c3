package corosql

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config holds the recognized configuration keys from spec.md §6. Keys not
// listed here (Options aside) are ignored.
type Config struct {
	Host       string
	Username   string
	Database   string
	Password   string
	Port       int
	Socket     string
	Charset    string
	Persistent bool
	Options    map[string]string

	// Capacity bounds the Pool's live sessions (spec.md §3, N≥1).
	Capacity int

	// ConnectTimeout and ReadTimeout are forwarded to the driver as
	// connection-level options per spec.md §5 ("timeouts are expressed via
	// driver options ... not enforced by the core").
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// validateConfig is the minimal, mechanical config validator this core
// keeps. spec.md §1 treats the full configuration-validation surface as an
// external collaborator; this exists only so NewPool has something to call
// before it starts dialing. It checks that host (or socket) and database are
// non-empty, that port is not negative and that capacity is at least 1 — see
// DESIGN.md.
func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Host) == "" && strings.TrimSpace(cfg.Socket) == "" {
		return &ConfigInvalid{Field: "host", Expected: "non-empty string (or socket set)"}
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return &ConfigInvalid{Field: "database", Expected: "non-empty string"}
	}
	if cfg.Port < 0 {
		return &ConfigInvalid{Field: "port", Expected: "non-negative integer"}
	}
	if cfg.Capacity < 1 {
		return &ConfigInvalid{Field: "capacity", Expected: "integer >= 1"}
	}
	return nil
}

// buildConnector turns a validated Config into a driver.Connector built
// from go-sql-driver/mysql's own mysql.Config — its FormatDSN/NewConnector
// machinery supersedes a hand-rolled DSN builder and is the more
// dependency-grounded choice. The persistent flag is accepted for parity
// with spec.md §4.B's Factory contract: both persistent and non-persistent
// connectors are driver.Connector values and are treated identically by the
// Pool once connected; a host embedding this library over a process-wide
// registry can substitute its own driver.Connector for the persistent case.
func buildConnector(cfg Config, persistent bool) (driver.Connector, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Database
	mc.ParseTime = true

	if cfg.Socket != "" {
		mc.Net = "unix"
		mc.Addr = cfg.Socket
	} else {
		mc.Net = "tcp"
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		mc.Addr = fmt.Sprintf("%s:%s", cfg.Host, strconv.Itoa(port))
	}

	charset := cfg.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	mc.Params = map[string]string{"charset": charset}
	for k, v := range cfg.Options {
		mc.Params[k] = v
	}

	if cfg.ConnectTimeout > 0 {
		mc.Timeout = cfg.ConnectTimeout
	}
	if cfg.ReadTimeout > 0 {
		mc.ReadTimeout = cfg.ReadTimeout
	}

	return mysql.NewConnector(mc)
}
