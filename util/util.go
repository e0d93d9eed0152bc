// Package util holds helpers shared by the compellent packages.
package util

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"compellent/config"
	cErrors "compellent/errors"
)

// GetLoggingWriter returns a new io.Writer suitable for logging.
func GetLoggingWriter(cfg *config.Config) (io.Writer, error) {
	var writer io.Writer = os.Stdout
	if cfg.LogFile != "" {
		dirname := path.Dir(cfg.LogFile)
		if _, err := os.Stat(dirname); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to create log folder")
			}
			if err := os.MkdirAll(dirname, 0o711); err != nil {
				return nil, fmt.Errorf("failed to create log folder")
			}
		}
		writer = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    500, // megabytes
			MaxBackups: 3,
			MaxAge:     28,   //days
			Compress:   true, // disabled by default
		}
	}
	return writer, nil
}

// expiration modifiers in minutes
var expirationMultipliers = map[byte]int{
	'h': 60,
	'd': 24 * 60,
	'w': 7 * 24 * 60,
	'm': 30 * 24 * 60,
	'y': 365 * 24 * 60,
}

// ParseExpiration converts a time coded string to its integer minute
// equivalent. Acceptable values are of the form [positive integer] or
// [positive integer][modifier], where modifier is one of:
//
//	h = hours = 60 minutes
//	d = days = 24 hours = 1440 minutes
//	w = weeks = 7 days = 10080 minutes
//	m = months = 30 days = 43200 minutes
//	y = years = 365 days = 525600 minutes
//
// A value of 0 means the snapshot never expires.
func ParseExpiration(expiration string) (int, error) {
	if expiration == "" {
		return 0, cErrors.NewValueError("empty expiration string")
	}

	last := expiration[len(expiration)-1]
	if last >= '0' && last <= '9' {
		value, err := strconv.Atoi(expiration)
		if err != nil {
			return 0, cErrors.NewValueError("cannot convert %s to integer", expiration)
		}
		if value < 0 {
			return 0, cErrors.NewValueError("expiration time value cannot be negative")
		}
		return value, nil
	}

	multiplier, ok := expirationMultipliers[last|0x20]
	if !ok {
		return 0, cErrors.NewValueError("invalid time modifier: %c", last)
	}

	value, err := strconv.Atoi(expiration[:len(expiration)-1])
	if err != nil {
		return 0, cErrors.NewValueError("invalid time string format %s", expiration)
	}
	if value < 0 {
		return 0, cErrors.NewValueError("expiration time value cannot be negative")
	}
	return value * multiplier, nil
}

// ResolveHost attempts to resolve hostname to its fully qualified
// domain name, trying each of the configured search domains for short
// names. It returns the short name and the FQDN.
func ResolveHost(hostname string, domains []string) (string, string, error) {
	hostname = strings.ToLower(hostname)

	if strings.Contains(hostname, ".") {
		// assume name is fully qualified
		short := strings.SplitN(hostname, ".", 2)[0]
		if _, err := net.LookupHost(hostname); err != nil {
			return "", "", cErrors.NewValueError("unable to resolve hostname %s", hostname)
		}
		return short, hostname, nil
	}

	for _, domain := range domains {
		domain = strings.ToLower(domain)
		fqdn := hostname + "." + strings.TrimPrefix(domain, ".")
		if _, err := net.LookupHost(fqdn); err == nil {
			return hostname, fqdn, nil
		}
	}
	return "", "", cErrors.NewValueError("unable to resolve hostname %s", hostname)
}

// MatchPattern matches name against a simple shell style pattern. A
// pattern without any wildcard characters is treated as a prefix, so
// "psdb" matches psdbprd16a as well as psdbdev26a.
func MatchPattern(name, pattern string) bool {
	if pattern == "" {
		return false
	}
	if !strings.ContainsAny(pattern, "*?[") {
		pattern = pattern + "*"
	}
	matched, err := path.Match(pattern, name)
	if err != nil {
		return false
	}
	return matched
}

// RunHook executes a configured pre or post command through the shell
// and returns its combined output.
func RunHook(command string) (string, error) {
	if command == "" {
		return "", nil
	}
	out, err := exec.Command("/bin/sh", "-c", command).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("running hook %q: %w", command, err)
	}
	return string(out), nil
}
