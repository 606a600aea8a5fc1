package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadEnvFile reads KEY=value lines from path into the process environment.
// Variables already present in the environment win over the file.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open env file: %w", err)
	}
	defer f.Close()

	vars, err := parseEnv(bufio.NewScanner(f))
	if err != nil {
		return fmt.Errorf("failed to parse env file %s: %w", path, err)
	}
	for k, v := range vars {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("failed to set %s: %w", k, err)
		}
	}
	return nil
}

func parseEnv(scanner *bufio.Scanner) (map[string]string, error) {
	vars := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: missing '='", lineNo)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", lineNo)
		}
		vars[key] = unquote(strings.TrimSpace(value))
	}
	return vars, scanner.Err()
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	// Strip trailing inline comments on unquoted values
	if i := strings.Index(v, " #"); i >= 0 {
		return strings.TrimSpace(v[:i])
	}
	return v
}

func (c *Config) applyEnv() error {
	c.App.Name = getenv("APP_NAME", c.App.Name)
	c.App.Version = getenv("APP_VERSION", c.App.Version)
	c.App.Environment = getenv("NODE_ENV", c.App.Environment)

	var err error
	if c.App.Port, err = getenvInt("PORT", c.App.Port); err != nil {
		return err
	}
	if c.Health.Port, err = getenvInt("HEALTH_CHECK_PORT", c.Health.Port); err != nil {
		return err
	}
	if c.Health.Interval, err = getenvDuration("HEALTH_CHECK_INTERVAL", c.Health.Interval); err != nil {
		return err
	}
	if c.Health.Timeout, err = getenvDuration("HEALTH_CHECK_TIMEOUT", c.Health.Timeout); err != nil {
		return err
	}
	if c.Metrics.Enabled, err = getenvBool("ENABLE_METRICS", c.Metrics.Enabled); err != nil {
		return err
	}
	if c.Metrics.Port, err = getenvInt("METRICS_PORT", c.Metrics.Port); err != nil {
		return err
	}
	c.Metrics.Textfile = getenv("DEPLOY_METRICS_TEXTFILE", c.Metrics.Textfile)
	c.Log.Level = strings.ToLower(getenv("LOG_LEVEL", c.Log.Level))
	c.Log.File = getenv("DEPLOY_LOG_FILE", c.Log.File)

	c.Paths.SourceDir = getenv("DEPLOY_SOURCE_DIR", c.Paths.SourceDir)
	c.Paths.LiveDir = getenv("DEPLOY_LIVE_DIR", c.Paths.LiveDir)
	c.Paths.ReleasesDir = getenv("DEPLOY_RELEASES_DIR", c.Paths.ReleasesDir)
	c.Paths.BackupDir = getenv("DEPLOY_BACKUP_DIR", c.Paths.BackupDir)
	c.Paths.StateDir = getenv("DEPLOY_STATE_DIR", c.Paths.StateDir)

	if c.Backup.Keep, err = getenvInt("DEPLOY_BACKUP_KEEP", c.Backup.Keep); err != nil {
		return err
	}
	if c.Deploy.Rollback, err = getenvBool("DEPLOY_ROLLBACK", c.Deploy.Rollback); err != nil {
		return err
	}
	c.Deploy.PreHook = getenv("DEPLOY_PRE_HOOK", c.Deploy.PreHook)
	c.Deploy.PostHook = getenv("DEPLOY_POST_HOOK", c.Deploy.PostHook)

	c.Health.URL = getenv("DEPLOY_HEALTH_URL", c.Health.URL)
	if c.Health.Attempts, err = getenvInt("DEPLOY_HEALTH_ATTEMPTS", c.Health.Attempts); err != nil {
		return err
	}
	if c.Health.Backoff, err = getenvDuration("DEPLOY_HEALTH_BACKOFF", c.Health.Backoff); err != nil {
		return err
	}
	if c.Process.Instances, err = getenvInt("DEPLOY_INSTANCES", c.Process.Instances); err != nil {
		return err
	}

	c.Backup.S3.Bucket = getenv("DEPLOY_S3_BUCKET", c.Backup.S3.Bucket)
	c.Backup.S3.Prefix = getenv("DEPLOY_S3_PREFIX", c.Backup.S3.Prefix)
	c.Backup.S3.Region = getenv("DEPLOY_S3_REGION", c.Backup.S3.Region)
	c.Backup.S3.Endpoint = getenv("DEPLOY_S3_ENDPOINT", c.Backup.S3.Endpoint)
	c.Backup.S3.AccessKeyID = getenv("DEPLOY_S3_ACCESS_KEY_ID", c.Backup.S3.AccessKeyID)
	c.Backup.S3.SecretAccessKey = getenv("DEPLOY_S3_SECRET_ACCESS_KEY", c.Backup.S3.SecretAccessKey)
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

// getenvDuration accepts Go duration syntax ("30s") or a bare integer in
// milliseconds ("30000").
func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

// ParseDuration parses a Go duration or an integer number of milliseconds
func ParseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}
