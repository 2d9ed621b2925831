// Package bracketing groups time-adjacent shots into exposure brackets and
// extracts capture timestamps from embedded photo metadata. The grouping
// algorithm is ported directly from
// packages/snapflow/discovery/__main__.py::_group_files_by_bracket /
// _sort_brackets_chronologically in the original implementation: the time
// gap used to decide a split is always measured against the last member of
// the bracket under construction, never the first.
package bracketing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"snapflow-core/internal/models"
)

const (
	// DefaultTimeDeltaSeconds is used when the caller omits time_delta_seconds
	// or supplies a non-numeric value.
	DefaultTimeDeltaSeconds = 2.0
	// DJIOverrideSeconds is forced when a majority of records are DJI files.
	DJIOverrideSeconds = 10.0
	// dateLayout matches the isoformat() string produced by ExtractCaptureTime.
	dateLayout = "2006-01-02T15:04:05"
)

// IsDJIFile reports whether name matches the DJI drone naming convention:
// DJI_####.dng, case-insensitive on both the prefix and the extension.
func IsDJIFile(name string) bool {
	return strings.HasPrefix(strings.ToUpper(name), "DJI_") &&
		strings.HasSuffix(strings.ToLower(name), ".dng")
}

// EffectiveTimeDelta computes the time delta actually used for grouping,
// applying the DJI override when more than half of records are DJI files.
func EffectiveTimeDelta(requested *float64, records []models.FileMetadataRecord) float64 {
	requestedSeconds := DefaultTimeDeltaSeconds
	if requested != nil {
		requestedSeconds = *requested
	}

	total := len(records)
	if total == 0 {
		return requestedSeconds
	}

	djiCount := 0
	for _, r := range records {
		if IsDJIFile(r.Name) {
			djiCount++
		}
	}

	if float64(djiCount)/float64(total) > 0.5 {
		return DJIOverrideSeconds
	}
	return requestedSeconds
}

// Group groups file metadata records into brackets. timeDeltaSeconds is the
// caller-requested delta (nil means "use the default"); the effective delta
// (after any DJI override) is applied uniformly to the whole input.
//
// A first record with no DateTaken at all is an error. Any other record
// with an unparseable or missing DateTaken is dropped silently; an empty or
// all-unparseable input after flattening returns no brackets.
func Group(records []models.FileMetadataRecord, timeDeltaSeconds *float64) ([]models.Bracket, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if records[0].DateTaken == "" {
		return nil, fmt.Errorf("bracketing: first record %q has no date_taken", records[0].Name)
	}

	delta := EffectiveTimeDelta(timeDeltaSeconds, records)
	deltaDuration := time.Duration(delta * float64(time.Second))

	parsedRecords := make([]parsedRecord, 0, len(records))
	for _, r := range records {
		t, err := time.Parse(dateLayout, r.DateTaken)
		if err != nil {
			continue
		}
		parsedRecords = append(parsedRecords, parsedRecord{record: r, at: t})
	}

	sort.SliceStable(parsedRecords, func(i, j int) bool {
		return parsedRecords[i].record.DateTaken < parsedRecords[j].record.DateTaken
	})

	var brackets []models.Bracket
	var current []parsedRecord

	for _, p := range parsedRecords {
		if len(current) == 0 {
			current = append(current, p)
			continue
		}
		lastTime := current[len(current)-1].at
		gap := p.at.Sub(lastTime)
		if gap <= deltaDuration {
			current = append(current, p)
			continue
		}
		brackets = append(brackets, toBracket(current))
		current = []parsedRecord{p}
	}
	if len(current) > 0 {
		brackets = append(brackets, toBracket(current))
	}

	sortBracketsChronologically(brackets)
	return brackets, nil
}

// parsedRecord pairs a file metadata record with its parsed capture time.
type parsedRecord struct {
	record models.FileMetadataRecord
	at     time.Time
}

func toBracket(members []parsedRecord) models.Bracket {
	bracket := make(models.Bracket, len(members))
	for i, m := range members {
		bracket[i] = m.record
	}
	return bracket
}

// sortBracketsChronologically re-sorts the already-closed brackets by each
// bracket's earliest DateTaken, stable on ties (matches
// _sort_brackets_chronologically's use of Python's stable sorted()).
func sortBracketsChronologically(brackets []models.Bracket) {
	sort.SliceStable(brackets, func(i, j int) bool {
		return earliestDate(brackets[i]) < earliestDate(brackets[j])
	})
}

func earliestDate(b models.Bracket) string {
	earliest := "9999-12-31"
	for _, r := range b {
		if r.DateTaken != "" && (earliest == "9999-12-31" || r.DateTaken < earliest) {
			earliest = r.DateTaken
		}
	}
	return earliest
}

// Flatten tolerates a doubly-nested input ([[records]]) by flattening one
// level: if any element of a raw JSON array-of-arrays is itself an array,
// the caller should have already unmarshalled into [][]models.FileMetadataRecord
// and can pass the flattened slice here. This helper exists for the single
// level of nesting the gateway/discovery envelopes are documented to emit.
func Flatten(groups [][]models.FileMetadataRecord) []models.FileMetadataRecord {
	var out []models.FileMetadataRecord
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
