package util

import "os"

// GetEnv returns the value of key or fallback when unset or empty.
func GetEnv(key string, fallback string) string {
	if value, found := os.LookupEnv(key); found && value != "" {
		return value
	}
	return fallback
}
