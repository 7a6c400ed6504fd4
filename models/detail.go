package models

// DetailPageInfo holds the fields extracted from one note's detail page.
// The zero value is the placeholder used when a fetch is skipped (security
// check active) or fails; it is always present in pipeline results so the
// output cardinality matches the requested ids.
type DetailPageInfo struct {
	NoteID   string
	URL      string
	VideoURL string
	DescHTML string // inner HTML of the description node
	Tags     []string
}

// IsVideo reports whether the note carries a playable video source.
func (d DetailPageInfo) IsVideo() bool {
	return d.VideoURL != ""
}
