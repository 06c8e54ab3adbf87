package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/gophdrive/internal/flagx"
)

var knownFlags = []string{"-d", "-s", "-k", "-n", "-u", "-p", "-b", "-g", "-e", "-l", "-m", "-t", "-v"}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string     PostgreSQL DSN
//	-s string     access token HMAC secret
//	-k string     session key passphrase
//	-n string     session key salt
//	-u string     S3 root user
//	-p string     S3 root password
//	-b string     S3 bucket
//	-g string     S3 region
//	-e string     S3 base endpoint
//	-l string     log level
//	-m int        max tree depth
//	-t duration   operation timeout (e.g. "30s")
//	-v duration   access token validity
//
// Only these flags are looked at, so subcommands and their arguments can
// share the same command line.
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("gophdrive", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "access token secret")
	fs.StringVar(&config.SessionKey, "k", config.SessionKey, "session key passphrase")
	fs.StringVar(&config.SessionSalt, "n", config.SessionSalt, "session key salt")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.IntVar(&config.MaxTreeDepth, "m", config.MaxTreeDepth, "max tree depth")
	fs.DurationVar(&config.OperationTimeout, "t", config.OperationTimeout, "operation timeout")
	fs.DurationVar(&config.AccessTokenValidity, "v", config.AccessTokenValidity, "access token validity")

	return fs.Parse(flagx.FilterArgs(args, knownFlags))
}
