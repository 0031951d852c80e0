package utils

import (
	"fmt"
	"strings"
	"time"
)

// GenerateConnectionString собирает DSN подключения к PostgreSQL в
// формате keyword=value. Размер пула уходит параметром pool_max_conns,
// который понимает pgxpool
func GenerateConnectionString(
	host, user, password, dbName, sslMode string,
	port, poolSize int,
	timeout time.Duration,
) (string, error) {
	switch {
	case host == "":
		return "", ErrStorageEmptyHostName
	case port < 0 || port > 65535:
		return "", ErrStorageInvalidPortNumber
	case user == "":
		return "", ErrStorageEmptyUsername
	case password == "":
		return "", ErrStorageEmptyPassword
	case dbName == "":
		return "", ErrStorageInvalidDatabaseName
	case sslMode == "":
		return "", ErrStorageInvalidSslMode
	case poolSize < 0:
		return "", ErrStorageInvalidPoolSize
	case timeout < 0:
		return "", ErrStorageInvalidTimeout
	}

	parts := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"user=" + user,
		"password=" + password,
		"dbname=" + dbName,
		"sslmode=" + sslMode,
	}
	if poolSize > 0 {
		parts = append(parts, fmt.Sprintf("pool_max_conns=%d", poolSize))
	}
	if timeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(timeout.Seconds())))
	}

	return strings.Join(parts, " "), nil
}
