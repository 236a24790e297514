// Package ingest normalizes delivered scrape batches into warehouse rows.
package ingest

import (
	"errors"
	"fmt"
)

// Source is the closed set of content sources the pipeline ingests. The
// scrape provider tags each delivery with its dataset identifier; anything
// outside this set is rejected before any row is built.
type Source string

const (
	SourceReddit Source = "reddit"
	SourceQuora  Source = "quora"
)

// Provider dataset identifiers, assigned by the scrape vendor.
const (
	redditDatasetTag = "gd_lvz8ah06191smkebj4"
	quoraDatasetTag  = "gd_lvz1rbj81afv3m6n5y"
)

// ErrUnknownSource is returned when a delivery carries a dataset tag that maps
// to no known source.
var ErrUnknownSource = errors.New("unknown source dataset tag")

// ParseSource resolves a provider dataset tag to a Source.
func ParseSource(tag string) (Source, error) {
	switch tag {
	case redditDatasetTag:
		return SourceReddit, nil
	case quoraDatasetTag:
		return SourceQuora, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, tag)
	}
}
