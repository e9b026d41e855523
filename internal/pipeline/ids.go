package pipeline

// idAfter reports whether id is numerically greater than watermark.
// Ids are monotonically increasing integers encoded as digit strings;
// comparing by length then lexicographically avoids any integer width
// ceiling. An empty watermark means no filter.
func idAfter(id, watermark string) bool {
	if watermark == "" {
		return true
	}
	if len(id) != len(watermark) {
		return len(id) > len(watermark)
	}
	return id > watermark
}
