package moderation

// Window decides when accumulated output is rescanned and from where.
type Window struct {
	ChunkSize int // rescan once output grew by more than this many bytes
	Overlap   int // bytes before the previous cursor included in a rescan
}

var DefaultWindow = Window{ChunkSize: 50, Overlap: 10}

// Due reports whether a scan should run for output of length total given the
// last checked position.
func (w Window) Due(total, cursor int, eos bool) bool {
	return eos || total-cursor > w.ChunkSize
}

// Start is the offset a rescan begins at.
func (w Window) Start(cursor int) int {
	if cursor-w.Overlap < 0 {
		return 0
	}
	return cursor - w.Overlap
}

// Scan runs f over the unscanned tail of text when a scan is due. It returns
// the new cursor and whether the text was flagged. The cursor only advances
// on clear scans.
func (w Window) Scan(f *Filter, text string, cursor int, eos bool) (int, bool) {
	if !w.Due(len(text), cursor, eos) {
		return cursor, false
	}
	if f.Flagged(text[w.Start(cursor):]) {
		return cursor, true
	}
	return len(text), false
}
