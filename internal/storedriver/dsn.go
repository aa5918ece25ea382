package storedriver

import (
	"fmt"
	"net/url"
	"strings"
)

// SSLMode enumerates the recognized sslmode values. Unrecognized or
// missing values default to SSLModePrefer.
type SSLMode string

const (
	SSLModeDisable SSLMode = "disable"
	SSLModePrefer  SSLMode = "prefer"
	SSLModeRequire SSLMode = "require"
)

// DefaultPort is used when a ConnectionString omits an explicit port.
const DefaultPort = "5432"

// ConnectionString is a parsed
// scheme://[user[:password]@]host[:port]/database[?sslmode=...] DSN.
type ConnectionString struct {
	Scheme   string
	User     string
	Password string
	Host     string
	Port     string
	Database string
	SSLMode  SSLMode
}

// ParseConnectionString parses the grammar from spec §6. Malformed
// input yields an error; a missing port defaults to DefaultPort and a
// missing/unrecognized sslmode defaults to SSLModePrefer.
func ParseConnectionString(raw string) (*ConnectionString, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("parse connection string: missing scheme")
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse connection string: missing host")
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = DefaultPort
	}

	database := strings.TrimPrefix(u.Path, "/")

	var user, password string
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}

	mode := SSLModePrefer
	switch SSLMode(u.Query().Get("sslmode")) {
	case SSLModeDisable:
		mode = SSLModeDisable
	case SSLModeRequire:
		mode = SSLModeRequire
	case SSLModePrefer:
		mode = SSLModePrefer
	}

	return &ConnectionString{
		Scheme:   u.Scheme,
		User:     user,
		Password: password,
		Host:     host,
		Port:     port,
		Database: database,
		SSLMode:  mode,
	}, nil
}
