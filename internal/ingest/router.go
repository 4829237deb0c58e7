package ingest

import (
	"time"

	"candlesync/internal/domain"
)

// Source identifies which collaborator serves a download window.
type Source int

const (
	SourceLive Source = iota
	SourceArchive
)

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// Route decides whether a window is served by the live API or the bulk
// archive: windows starting before now - cutoffDays go to the archive,
// everything else to the live API. The whole window goes one way: a window
// straddling the cutoff is not split into two sub-requests; the archive
// carries the full range in that case only when the start falls behind the
// cutoff. A start exactly on the cutoff routes live, deterministically for
// a fixed now.
func Route(w domain.DownloadWindow, now time.Time, cutoffDays int) Source {
	cutoff := now.Add(-time.Duration(cutoffDays) * 24 * time.Hour)
	if w.Start.Before(cutoff) {
		return SourceArchive
	}
	return SourceLive
}
