// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/dedupvault/lib/cursor"
)

// HeaderSize is the encoded size of a Header.
const HeaderSize = 16

// DefaultMaxPayload bounds a single frame's payload.
const DefaultMaxPayload = 8 << 20

var (
	// ErrMalformed means a payload does not match its header.
	ErrMalformed = errors.New("wire: malformed payload")

	// ErrFrameTooLarge means a header declares a payload above the
	// reader's limit.
	ErrFrameTooLarge = errors.New("wire: frame exceeds payload limit")
)

// MessageType identifies a frame. Client messages are numbered from
// 1 and server messages from 101.
type MessageType int32

// Client messages.
const (
	// ClientLoginUpload opens an upload session. The payload is a
	// CBOR LoginRequest naming the file.
	ClientLoginUpload MessageType = 1

	// ClientLoginRestore opens a restore session. The payload is a
	// CBOR LoginRequest naming the file.
	ClientLoginRestore MessageType = 2

	// ClientUploadChunks carries ItemCount chunks as [len:4][bytes]
	// records.
	ClientUploadChunks MessageType = 3

	// ClientUploadEnd closes an upload. The payload is the CBOR
	// recipe head the client computed.
	ClientUploadEnd MessageType = 4

	// ClientQueryFingerprints asks which of ItemCount fingerprints
	// are already stored.
	ClientQueryFingerprints MessageType = 5
)

// Server messages.
const (
	// ServerLoginResponse accepts a login. For restores the payload
	// carries the recipe head.
	ServerLoginResponse MessageType = 101

	// ServerFileNotExist answers a restore login for an unknown file.
	ServerFileNotExist MessageType = 102

	// ServerRestoreChunks carries ItemCount restored chunks in
	// recipe order, encoded like ClientUploadChunks.
	ServerRestoreChunks MessageType = 103

	// ServerRestoreFinal ends a successful restore.
	ServerRestoreFinal MessageType = 104

	// ServerFingerprintStatus answers ClientQueryFingerprints with
	// one status byte per fingerprint.
	ServerFingerprintStatus MessageType = 105

	// ServerUploadDone acknowledges a committed upload with its
	// CBOR UploadDone counters.
	ServerUploadDone MessageType = 106

	// ServerError ends the session with a CBOR ErrorResponse.
	ServerError MessageType = 199
)

var messageTypeNames = map[MessageType]string{
	ClientLoginUpload:       "client-login-upload",
	ClientLoginRestore:      "client-login-restore",
	ClientUploadChunks:      "client-upload-chunks",
	ClientUploadEnd:         "client-upload-end",
	ClientQueryFingerprints: "client-query-fingerprints",
	ServerLoginResponse:     "server-login-response",
	ServerFileNotExist:      "server-file-not-exist",
	ServerRestoreChunks:     "server-restore-chunks",
	ServerRestoreFinal:      "server-restore-final",
	ServerFingerprintStatus: "server-fingerprint-status",
	ServerUploadDone:        "server-upload-done",
	ServerError:             "server-error",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("message-type(%d)", int32(t))
}

// Header precedes every payload.
type Header struct {
	Type      MessageType
	ClientID  uint32
	DataSize  uint32
	ItemCount uint32
}

// Put appends the HeaderSize-byte encoding of h to writer.
func (h Header) Put(writer *cursor.Writer) {
	writer.PutUint32(uint32(h.Type))
	writer.PutUint32(h.ClientID)
	writer.PutUint32(h.DataSize)
	writer.PutUint32(h.ItemCount)
}

// ParseHeader decodes a header from the first HeaderSize bytes.
func ParseHeader(buffer []byte) (Header, error) {
	reader := cursor.NewReader(buffer)
	var words [4]uint32
	for index := range words {
		word, err := reader.Uint32()
		if err != nil {
			return Header{}, fmt.Errorf("%w: header: %v", ErrMalformed, err)
		}
		words[index] = word
	}
	return Header{
		Type:      MessageType(int32(words[0])),
		ClientID:  words[1],
		DataSize:  words[2],
		ItemCount: words[3],
	}, nil
}

// ReadFrame reads one header and its payload. A payload larger than
// maxPayload is rejected before it is read. A clean end of stream
// before the header returns io.EOF; a stream cut inside a frame
// returns io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, maxPayload int) (Header, []byte, error) {
	var buffer [HeaderSize]byte
	if _, err := io.ReadFull(r, buffer[:]); err != nil {
		return Header{}, nil, err
	}
	header, _ := ParseHeader(buffer[:])
	if uint64(header.DataSize) > uint64(maxPayload) {
		return header, nil, fmt.Errorf("%w: %s declares %d bytes, limit %d", ErrFrameTooLarge, header.Type, header.DataSize, maxPayload)
	}
	payload := make([]byte, header.DataSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return header, nil, fmt.Errorf("reading %s payload: %w", header.Type, err)
	}
	return header, payload, nil
}

// WriteFrame writes header and payload in one write. DataSize is set
// from len(payload).
func WriteFrame(w io.Writer, header Header, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: %d byte payload", ErrFrameTooLarge, len(payload))
	}
	header.DataSize = uint32(len(payload))
	frame := cursor.NewWriter(HeaderSize + len(payload))
	header.Put(frame)
	frame.PutBytes(payload)
	if _, err := w.Write(frame.Bytes()); err != nil {
		return fmt.Errorf("writing %s frame: %w", header.Type, err)
	}
	return nil
}
