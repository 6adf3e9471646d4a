package feed

import (
	"bytes"
	"encoding/json"

	"bitbucket.org/novatechnologies/datafeed/domain"
)

// DecodeChunk decodes every complete, well-formed line of chunk. Malformed,
// partial and empty lines are skipped silently.
func DecodeChunk(chunk []byte) []domain.Tick {
	var ticks []domain.Tick
	for _, line := range bytes.Split(chunk, []byte{'\n'}) {
		if tick, ok := decodeLine(line); ok {
			ticks = append(ticks, tick)
		}
	}
	return ticks
}

func decodeLine(line []byte) (domain.Tick, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return domain.Tick{}, false
	}
	var tick domain.Tick
	if err := json.Unmarshal(line, &tick); err != nil {
		return domain.Tick{}, false
	}
	if tick.InstrumentID == "" {
		return domain.Tick{}, false
	}
	return tick, true
}

// Decoder decodes a stream delivered in arbitrary chunks. The unterminated
// tail of a chunk is kept and completed by the next one. A tail longer than
// maxTail bytes is dropped, and the rest of that line is then skipped as
// malformed. The zero Decoder keeps tails of any length.
type Decoder struct {
	tail    []byte
	maxTail int
}

func NewDecoder(maxTail int) *Decoder {
	return &Decoder{maxTail: maxTail}
}

func (d *Decoder) Feed(chunk []byte) []domain.Tick {
	data := chunk
	if len(d.tail) > 0 {
		data = append(d.tail, chunk...)
		d.tail = nil
	}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		d.keepTail(data)
		return nil
	}
	if end < len(data)-1 {
		d.keepTail(data[end+1:])
	}
	return DecodeChunk(data[:end])
}

func (d *Decoder) keepTail(fragment []byte) {
	if d.maxTail > 0 && len(fragment) > d.maxTail {
		return
	}
	d.tail = append([]byte(nil), fragment...)
}

// Flush decodes what is left once the stream has ended.
func (d *Decoder) Flush() []domain.Tick {
	tail := d.tail
	d.tail = nil
	return DecodeChunk(tail)
}

// Reset forgets a partial line, e.g. one cut off by a broken connection.
func (d *Decoder) Reset() {
	d.tail = nil
}
