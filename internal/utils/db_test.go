package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateConnectionString(t *testing.T) {
	dsn, err := GenerateConnectionString(
		"localhost", "catalog", "secret", "catalog_db", "disable",
		5432, 10, 5*time.Second,
	)
	require.NoError(t, err)

	assert.Equal(t,
		"host=localhost port=5432 user=catalog password=secret dbname=catalog_db sslmode=disable pool_max_conns=10 connect_timeout=5",
		dsn,
	)
}

func TestGenerateConnectionStringOmitsOptionalParams(t *testing.T) {
	dsn, err := GenerateConnectionString(
		"localhost", "catalog", "secret", "catalog_db", "disable",
		5432, 0, 0,
	)
	require.NoError(t, err)

	assert.NotContains(t, dsn, "pool_max_conns")
	assert.NotContains(t, dsn, "connect_timeout")
}

func TestGenerateConnectionStringValidation(t *testing.T) {
	cases := []struct {
		name     string
		host     string
		user     string
		password string
		dbName   string
		sslMode  string
		port     int
		poolSize int
		timeout  time.Duration
		want     error
	}{
		{"пустой хост", "", "u", "p", "db", "disable", 5432, 1, 0, ErrStorageEmptyHostName},
		{"порт вне диапазона", "h", "u", "p", "db", "disable", 70000, 1, 0, ErrStorageInvalidPortNumber},
		{"пустой пользователь", "h", "", "p", "db", "disable", 5432, 1, 0, ErrStorageEmptyUsername},
		{"пустой пароль", "h", "u", "", "db", "disable", 5432, 1, 0, ErrStorageEmptyPassword},
		{"пустое имя базы", "h", "u", "p", "", "disable", 5432, 1, 0, ErrStorageInvalidDatabaseName},
		{"пустой режим SSL", "h", "u", "p", "db", "", 5432, 1, 0, ErrStorageInvalidSslMode},
		{"отрицательный пул", "h", "u", "p", "db", "disable", 5432, -1, 0, ErrStorageInvalidPoolSize},
		{"отрицательный таймаут", "h", "u", "p", "db", "disable", 5432, 1, -time.Second, ErrStorageInvalidTimeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := GenerateConnectionString(
				tc.host, tc.user, tc.password, tc.dbName, tc.sslMode,
				tc.port, tc.poolSize, tc.timeout,
			)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
