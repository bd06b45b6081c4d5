package database

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/filevault-api/pkg/config"
)

func TestDSNEscapesCredentials(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "vault",
		Password: "p@ss word/#",
		Name:     "filevault",
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5433", u.Host)
	assert.Equal(t, "/filevault", u.Path)
	pass, _ := u.User.Password()
	assert.Equal(t, "p@ss word/#", pass)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}

func TestDSNKeepsConfiguredSSLMode(t *testing.T) {
	u, err := url.Parse(DSN(config.DatabaseConfig{Host: "h", Port: 5432, User: "u", Name: "n", SSLMode: "require"}))
	require.NoError(t, err)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
}
