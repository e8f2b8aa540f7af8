package storage

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/qarchive/core"
)

const (
	// FormatVersion is the envelope layout version written by this package.
	FormatVersion byte = 1

	envelopeMagic0 byte = 'Q'
	envelopeMagic1 byte = 'A'
	headerSize          = 3
	checksumSize        = 8
)

// Envelope wraps a stored record with the metadata needed to detect
// corruption and unchanged re-puts.
//
// Layout: 'Q' 'A' <format version> <mus body> <8-byte BLAKE2b checksum>,
// where the checksum covers every preceding byte.
type Envelope struct {
	Kind     core.Kind
	Version  uint64
	StoredAt time.Time
	Digest   uint64
	Record   core.Record
}

// MarshalEnvelope serializes an envelope to bytes.
func MarshalEnvelope(env *Envelope) ([]byte, error) {
	payload := core.MarshalRecord(env.Record)
	if payload == nil {
		return nil, fmt.Errorf("%w: %w: %T", ErrSerializationFailed, core.ErrUnsupportedRecord, env.Record)
	}
	body := string(payload)

	size := headerSize +
		core.KindMUS.Size(env.Kind) +
		varint.Uint64.Size(env.Version) +
		raw.TimeUnixMicroUTC.Size(env.StoredAt) +
		varint.Uint64.Size(env.Digest) +
		ord.String.Size(body) +
		checksumSize

	buf := make([]byte, size)
	buf[0], buf[1], buf[2] = envelopeMagic0, envelopeMagic1, FormatVersion
	n := headerSize
	n += core.KindMUS.Marshal(env.Kind, buf[n:])
	n += varint.Uint64.Marshal(env.Version, buf[n:])
	n += raw.TimeUnixMicroUTC.Marshal(env.StoredAt, buf[n:])
	n += varint.Uint64.Marshal(env.Digest, buf[n:])
	n += ord.String.Marshal(body, buf[n:])

	sum, err := checksum(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	copy(buf[n:], sum)
	return buf, nil
}

// UnmarshalEnvelope deserializes and verifies an envelope.
// Every failure wraps ErrCorruptStore.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	if len(data) < headerSize+checksumSize {
		return nil, fmt.Errorf("%w: %w: %d bytes", ErrCorruptStore, ErrTruncatedData, len(data))
	}
	if data[0] != envelopeMagic0 || data[1] != envelopeMagic1 {
		return nil, fmt.Errorf("%w: bad magic %x", ErrCorruptStore, data[:2])
	}
	if data[2] != FormatVersion {
		return nil, fmt.Errorf("%w: %w: version %d", ErrCorruptStore, ErrUnsupportedFormat, data[2])
	}

	end := len(data) - checksumSize
	sum, err := checksum(data[:end])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	if binary.LittleEndian.Uint64(sum) != binary.LittleEndian.Uint64(data[end:]) {
		return nil, fmt.Errorf("%w: %w", ErrCorruptStore, ErrChecksumMismatch)
	}

	body := data[headerSize:end]
	env := &Envelope{}
	var n, n1 int
	var payload string

	env.Kind, n, err = core.ValidKindMUS.Unmarshal(body)
	if err == nil {
		env.Version, n1, err = varint.Uint64.Unmarshal(body[n:])
		n += n1
	}
	if err == nil {
		env.StoredAt, n1, err = raw.TimeUnixMicroUTC.Unmarshal(body[n:])
		n += n1
	}
	if err == nil {
		env.Digest, n1, err = varint.Uint64.Unmarshal(body[n:])
		n += n1
	}
	if err == nil {
		payload, n1, err = ord.String.Unmarshal(body[n:])
		n += n1
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrCorruptStore, ErrSerializationFailed, err)
	}
	if n != len(body) {
		return nil, fmt.Errorf("%w: %w", ErrCorruptStore, core.ErrTrailingBytes)
	}

	env.Record, err = core.UnmarshalRecord(env.Kind, []byte(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrCorruptStore, ErrSerializationFailed, err)
	}
	return env, nil
}

// checksum computes a 64-bit BLAKE2b sum of data.
func checksum(data []byte) ([]byte, error) {
	h, err := blake2b.New(checksumSize, nil)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, core.IDMUS.Size(id))
	core.IDMUS.Marshal(id, buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := core.IDMUS.Unmarshal(data)
	return id, err
}
