package errors

import (
	"fmt"
	"strings"
	"time"
)

// FetchFailure creates a fetch error with guidance derived from the cause
func FetchFailure(sourceID, url string, cause error) *Error {
	err := New(KindFetchFailure, sourceID, "failed to fetch ranking table").Wrap(cause)

	msg := ""
	if cause != nil {
		msg = strings.ToLower(cause.Error())
	}

	switch {
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		err.WithCause(fmt.Sprintf("request to %s timed out", url))
		err.WithSolutions(
			"Raise the per-source timeout in the registry (fetch.timeout)",
			"Raise sync.fetch_timeout or pass --fetch-timeout",
		)
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "connection refused"):
		err.WithCause(fmt.Sprintf("cannot reach %s", url))
		err.WithSolutions(
			"Check internet connectivity",
			"Check proxy settings: echo $HTTP_PROXY $HTTPS_PROXY",
		)
	case strings.Contains(msg, "status 403") || strings.Contains(msg, "status 429"):
		err.WithCause("the site rejected the request")
		err.WithSolutions(
			"Lower fetch.rate_limit",
			"Set fetch.user_agent to a browser user agent",
			"Switch the source to fetch.kind: browser",
		)
	default:
		err.WithCause(fmt.Sprintf("fetching %s", url))
		err.WithSolutions("Open the URL in a browser and confirm the table is still published")
	}

	err.WithVerify(fmt.Sprintf("curl -sI %s", url))
	err.WithHelp("rankwatch sources")
	return err
}

// SchemaMismatch creates an error for a table that does not fit the
// configured identity and tracked fields.
func SchemaMismatch(sourceID, format string, args ...any) *Error {
	err := New(KindSchemaMismatch, sourceID, "table does not match the configured schema")
	err.WithCause(fmt.Sprintf(format, args...))
	err.WithSolutions(
		"Compare the table headers with the source's columns mapping",
		"Update identity or tracked fields if the site changed its layout",
	)
	err.WithHelp("rankwatch sources")
	return err
}

// StoreWrite creates an error for a failed snapshot or metadata write
func StoreWrite(sourceID, op string, cause error) *Error {
	err := New(KindStoreWrite, sourceID, fmt.Sprintf("failed to %s", op)).Wrap(cause)
	err.WithSolutions(
		"Check free disk space and permissions of storage.base_dir",
		"Re-run the sync; the previous snapshot is still the latest",
	)
	return err
}

// StoreUnavailable creates an error for a store that cannot be used at all
func StoreUnavailable(backend string, cause error) *Error {
	err := New(KindStoreUnavailable, "", fmt.Sprintf("%s store is unavailable", backend)).Wrap(cause)
	err.WithSolutions(
		"Check that storage.base_dir exists and is writable",
		"For the sqlite backend, check storage.sqlite_path and that no other tool holds the database",
	)
	err.WithVerify("rankwatch status")
	return err
}

// Configuration creates a configuration error
func Configuration(format string, args ...any) *Error {
	err := New(KindConfiguration, "", fmt.Sprintf(format, args...))
	err.WithSolutions(
		"Check the sources registry file",
		"List valid source ids with: rankwatch sources",
	)
	err.WithHelp("rankwatch --help")
	return err
}

// LockTimeout creates an error for a source lock that could not be acquired
func LockTimeout(sourceID string, waited time.Duration) *Error {
	err := New(KindLock, sourceID, "source is locked by another sync")
	err.WithCause(fmt.Sprintf("lock not acquired within %s", waited))
	err.WithSolutions(
		"Wait for the running sync to finish",
		"Raise sync.lock_timeout",
	)
	return err
}
