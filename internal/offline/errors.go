package offline

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInProgress is returned when a download is requested while
	// another session is active.
	ErrAlreadyInProgress = errors.New("download already in progress")
	// ErrResourcesUnavailable is returned when the style pack manager or the
	// tile store cannot be opened.
	ErrResourcesUnavailable = errors.New("offline resources unavailable")
	// ErrRetrieval is returned when persisted regions cannot be listed.
	ErrRetrieval = errors.New("failed to retrieve offline regions")
	// ErrCanceled is wrapped by load errors caused by a cancel request.
	ErrCanceled = errors.New("load canceled")
	// ErrNotFound is wrapped by removal errors for unknown ids.
	ErrNotFound = errors.New("not found")
)

// Event error codes.
const (
	CodeStyleLoadFailure     = "offlineStyleLoadFailure"
	CodeTilesLoadFailure     = "offlineTilesLoadFailure"
	CodeRegionLoadFailure    = "offlineRegionLoadFailure"
	RegionLoadFailureMessage = "Something went wrong"
)

// StyleLoadError reports a failed style pack load.
type StyleLoadError struct {
	StyleURL string
	Err      error
}

func (e *StyleLoadError) Error() string {
	return fmt.Sprintf("style pack %q: %v", e.StyleURL, e.Err)
}

func (e *StyleLoadError) Unwrap() error { return e.Err }

// TileLoadError reports a failed tile region load.
type TileLoadError struct {
	RegionID string
	Err      error
}

func (e *TileLoadError) Error() string {
	return fmt.Sprintf("tile region %q: %v", e.RegionID, e.Err)
}

func (e *TileLoadError) Unwrap() error { return e.Err }

// RegionLoadError is the aggregate failure of a session, available once both
// loads have settled. At least one of Style and Tiles is set.
type RegionLoadError struct {
	RegionID string
	Style    *StyleLoadError
	Tiles    *TileLoadError
}

func (e *RegionLoadError) Error() string {
	return fmt.Sprintf("offline region %q failed: %v", e.RegionID, errors.Join(e.Unwrap()...))
}

func (e *RegionLoadError) Unwrap() []error {
	var errs []error
	if e.Style != nil {
		errs = append(errs, e.Style)
	}
	if e.Tiles != nil {
		errs = append(errs, e.Tiles)
	}
	return errs
}

// Canceled reports whether every failed load failed because of a cancel.
func (e *RegionLoadError) Canceled() bool {
	for _, err := range e.Unwrap() {
		if !errors.Is(err, ErrCanceled) {
			return false
		}
	}
	return true
}
