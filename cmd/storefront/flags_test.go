package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		JWTSecret:     "jwt",
		VNPHashSecret: "vnp",
		VNPTmnCode:    "TMN",
		SweepInterval: time.Minute,
		PaymentTTL:    15 * time.Minute,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing hash secret", func(c *Config) { c.VNPHashSecret = "" }, true},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"missing tmn code", func(c *Config) { c.VNPTmnCode = "" }, true},
		{"admin login without password", func(c *Config) { c.AdminLogin = "admin" }, true},
		{"admin pair", func(c *Config) { c.AdminLogin = "admin"; c.AdminPassword = "adminpass123" }, false},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }, true},
		{"negative payment grace", func(c *Config) { c.PaymentGrace = -time.Minute }, true},
		{"no payment grace", func(c *Config) { c.PaymentGrace = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveSecretsFromFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vnp_secret")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	c := &Config{JWTSecret: "inline", JWTSecretFile: filepath.Join(dir, "unused"), VNPHashSecretFile: path}
	require.NoError(t, c.resolveSecrets())
	assert.Equal(t, "from-file", c.VNPHashSecret)
	assert.Equal(t, "inline", c.JWTSecret, "inline value wins over file")

	c = &Config{VNPHashSecretFile: filepath.Join(dir, "missing")}
	assert.Error(t, c.resolveSecrets())
}

func TestUsesPostgres(t *testing.T) {
	assert.True(t, (&Config{DatabaseConnection: "postgres://u:p@localhost/db"}).usesPostgres())
	assert.True(t, (&Config{DatabaseConnection: "postgresql://localhost/db"}).usesPostgres())
	assert.False(t, (&Config{DatabaseConnection: "storefront.db"}).usesPostgres())
}
