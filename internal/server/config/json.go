package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gophdrive/internal/flagx"
	"github.com/dmitrijs2005/gophdrive/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Empty fields leave the
// current value alone, so a file may override only what it needs.
type JsonConfig struct {
	DatabaseDSN      string         `json:"database_dsn"`
	SecretKey        string         `json:"secret_key"`
	SessionKey       string         `json:"session_key"`
	SessionSalt      string         `json:"session_salt"`
	S3RootUser       string         `json:"s3_root_user"`
	S3RootPassword   string         `json:"s3_root_password"`
	S3Bucket         string         `json:"s3_bucket"`
	S3Region         string         `json:"s3_region"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint"`
	LogLevel         string         `json:"log_level"`
	MaxTreeDepth     int            `json:"max_tree_depth"`
	OperationTimeout timex.Duration `json:"operation_timeout"`

	AccessTokenValidity timex.Duration `json:"access_token_validity"`
}

// parseJSON overlays values from the file named by -c/-config (or
// $GOPHDRIVE_CONFIG). No file means no changes.
func parseJSON(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(raw, c); err != nil {
		return err
	}

	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.SessionKey, c.SessionKey)
	setString(&config.SessionSalt, c.SessionSalt)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.LogLevel, c.LogLevel)
	if c.MaxTreeDepth > 0 {
		config.MaxTreeDepth = c.MaxTreeDepth
	}
	if c.OperationTimeout.Duration > 0 {
		config.OperationTimeout = c.OperationTimeout.Duration
	}
	if c.AccessTokenValidity.Duration > 0 {
		config.AccessTokenValidity = c.AccessTokenValidity.Duration
	}

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
