package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ojdaemon/ojd/internal/ojerr"
)

// WriteMessage frames v as a 4-byte big-endian length prefix followed
// by its JSON encoding, and flushes it in one write.
func WriteMessage(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if len(body) > MaxMessageSize {
		return ojerr.ProtocolTooLarge(len(body), MaxMessageSize)
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)

	_, err = w.Write(frame)
	return err
}

// ReadMessage reads one length-prefixed frame and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return io.EOF
		}
		return ojerr.ProtocolMalformed(err.Error())
	}

	size := binary.BigEndian.Uint32(lenBuf[:])
	if int64(size) > MaxMessageSize {
		return ojerr.ProtocolTooLarge(int(size), MaxMessageSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return ojerr.ProtocolMalformed(err.Error())
	}

	if err := json.Unmarshal(body, v); err != nil {
		return ojerr.ProtocolMalformed(err.Error())
	}
	return nil
}

// ReadRequest reads one framed Request.
func ReadRequest(r io.Reader) (*Request, error) {
	var req Request
	if err := ReadMessage(r, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// WriteResponse frames and writes one Response.
func WriteResponse(w io.Writer, resp *Response) error {
	return WriteMessage(w, resp)
}
