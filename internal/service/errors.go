package service

import "github.com/rotisserie/eris"

// Sentinel errors for the failure categories callers need to tell apart.
// HTTP and CLI surfaces map these to status codes and exit codes;
// everything else is an internal error.
var (
	// ErrValidation means the request itself is malformed or underspecified.
	ErrValidation = eris.New("invalid request")

	// ErrConflict means applying the request would link records that belong
	// to different companies, or would change an established identifier.
	ErrConflict = eris.New("conflicting company records")

	// ErrNotFound means the referenced company does not exist.
	ErrNotFound = eris.New("company not found")

	// ErrScraperUnavailable means the scraper service could not be contacted.
	ErrScraperUnavailable = eris.New("scraper service unavailable")

	// ErrScraperFailed means the scraper service answered with a failure.
	ErrScraperFailed = eris.New("scraper service request failed")

	// ErrScraperParse means the scraper service's response could not be
	// parsed or ingested.
	ErrScraperParse = eris.New("scraper service response unusable")
)
