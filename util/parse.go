package util

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

func ParseInt(str string, fallback int) int {
	if v, err := strconv.Atoi(str); err == nil {
		return v
	}
	return fallback
}

func ParseBool(str string, fallback bool) bool {
	if v, err := strconv.ParseBool(str); err == nil {
		return v
	}
	return fallback
}

// ParseSize accepts plain byte counts as well as humanized sizes ("64KiB", "1GB").
func ParseSize(str string, fallback int64) int64 {
	str = strings.TrimSpace(str)
	if str == "" {
		return fallback
	}
	if v, err := strconv.ParseInt(str, 10, 64); err == nil {
		return v
	}
	v, err := humanize.ParseBytes(str)
	if err != nil || v > 1<<62 {
		return fallback
	}
	return int64(v)
}
