package protocol

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Encoder writes one JSON document per line. It is safe for concurrent use,
// so several tasks finishing at once never interleave their output.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes v followed by a newline.
func (e *Encoder) Encode(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.WithStack(e.enc.Encode(v))
}

// Decoder reads a stream of JSON documents. Documents may span any number of
// bytes, so large batches do not hit a line length limit.
type Decoder struct {
	dec *json.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

// DecodeRequest reads the next request. It returns io.EOF at a clean end of stream.
func (d *Decoder) DecodeRequest() (Request, error) {
	var req Request
	if err := d.dec.Decode(&req); err != nil {
		if err == io.EOF {
			return req, err
		}
		return req, errors.Wrap(err, "decoding request")
	}
	return req, nil
}

// DecodeResponse reads the next response. It returns io.EOF at a clean end of stream.
func (d *Decoder) DecodeResponse() (Response, error) {
	var resp Response
	if err := d.dec.Decode(&resp); err != nil {
		if err == io.EOF {
			return resp, err
		}
		return resp, errors.Wrap(err, "decoding response")
	}
	return resp, nil
}
