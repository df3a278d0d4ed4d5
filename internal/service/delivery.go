package service

import "time"

// DoneEvent is the terminal payload of a successful stream: durable
// identifiers the client needs to correlate the finished turn.
type DoneEvent struct {
	BotID     string
	ChatID    *int64
	Title     string
	UpdatedAt time.Time
}

// EventSink receives the ordered wire events of one streamed turn:
// Meta first, zero or more Deltas, then exactly one of Done or Error.
type EventSink interface {
	Meta(chatID *int64) error
	Delta(text string) error
	Done(ev DoneEvent) error
	Error(message string) error
}

// splitChunks slices a complete string into fixed-size rune chunks so
// non-streamed replies still arrive as a uniform delta sequence.
func splitChunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// chunkedEmit wraps emit so oversized fragments are re-sliced to the
// chunk size. Model deltas pass through mostly untouched; synthesized
// full-string replies get the fixed-size treatment.
func chunkedEmit(emit func(string) error, size int) func(string) error {
	return func(fragment string) error {
		for _, chunk := range splitChunks(fragment, size) {
			if err := emit(chunk); err != nil {
				return err
			}
		}
		return nil
	}
}
