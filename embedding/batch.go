package embedding

// batchRange is a half-open range of input texts sent as one provider call.
type batchRange struct {
	start int
	end   int
}

// splitBatches groups texts into ranges not exceeding maxItems entries or
// maxBytes of text. A single text larger than maxBytes still forms its own
// batch; size limits never drop input.
func splitBatches(texts []string, maxItems, maxBytes int) []batchRange {
	var batches []batchRange
	start := 0
	bytes := 0
	for i, text := range texts {
		if i > start && (i-start >= maxItems || bytes+len(text) > maxBytes) {
			batches = append(batches, batchRange{start: start, end: i})
			start = i
			bytes = 0
		}
		bytes += len(text)
	}
	if start < len(texts) {
		batches = append(batches, batchRange{start: start, end: len(texts)})
	}
	return batches
}
