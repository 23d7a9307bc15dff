package stream

import "unicode/utf8"

// chunkDecoder converts raw network chunks to text without splitting
// multi-byte UTF-8 sequences at chunk boundaries. Incomplete trailing bytes
// are carried over and prepended to the next chunk.
type chunkDecoder struct {
	pending []byte
}

// Decode returns the decodable prefix of pending+chunk and retains any
// trailing bytes that do not yet form a complete rune.
func (d *chunkDecoder) Decode(chunk []byte) string {
	data := make([]byte, 0, len(d.pending)+len(chunk))
	data = append(data, d.pending...)
	data = append(data, chunk...)

	complete := len(data)
	for i := len(data) - 1; i >= 0 && i > len(data)-utf8.UTFMax; i-- {
		b := data[i]
		if b < utf8.RuneSelf {
			break
		}
		if utf8.RuneStart(b) {
			if !utf8.FullRune(data[i:]) {
				complete = i
			}
			break
		}
	}

	d.pending = append(d.pending[:0], data[complete:]...)
	return string(data[:complete])
}

// Flush drains whatever is left, valid or not. Called once the stream ends;
// a truncated sequence at EOF decodes as replacement runes downstream.
func (d *chunkDecoder) Flush() string {
	out := string(d.pending)
	d.pending = nil
	return out
}
