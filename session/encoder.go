package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	formatVersionCurrent = 1

	// validFlagOffset is load-bearing: invalidation scripts SETRANGE this
	// byte without decoding the blob.
	validFlagOffset = 1
)

var errCorruptBlob = errors.New("corrupt session blob")

// Encode serializes a session into the versioned binary format. The session
// id is the Redis key and is not part of the blob.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(formatVersionCurrent)
	if s.Valid {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	for _, field := range []string{s.UserID, s.Role, s.AccessTokenID, s.RefreshTokenID, s.IP, s.Fingerprint} {
		if len(field) > 255 {
			return nil, errors.New("session field too long")
		}
		buf.WriteByte(byte(len(field)))
		buf.WriteString(field)
	}

	for _, field := range []string{s.UserAgent, s.FPComponents} {
		if len(field) > 65535 {
			return nil, errors.New("session field too long")
		}
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(field)))
		buf.Write(l[:])
		buf.WriteString(field)
	}

	for _, ts := range []int64{s.CreatedAt, s.LastActivity, s.ExpiresAt, s.RefreshExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by [Encode]. The caller supplies the
// session id from the key.
func Decode(id string, data []byte) (*Session, error) {
	if len(data) < 2 {
		return nil, errCorruptBlob
	}
	if data[0] != formatVersionCurrent {
		return nil, errCorruptBlob
	}

	s := &Session{ID: id, Valid: data[validFlagOffset] == 1}
	r := bytes.NewReader(data[2:])

	short := func(dst *string) error {
		l, err := r.ReadByte()
		if err != nil {
			return errCorruptBlob
		}
		raw := make([]byte, l)
		if _, err := io.ReadFull(r, raw); err != nil {
			return errCorruptBlob
		}
		*dst = string(raw)
		return nil
	}
	long := func(dst *string) error {
		var l [2]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return errCorruptBlob
		}
		raw := make([]byte, binary.BigEndian.Uint16(l[:]))
		if _, err := io.ReadFull(r, raw); err != nil {
			return errCorruptBlob
		}
		*dst = string(raw)
		return nil
	}

	for _, dst := range []*string{&s.UserID, &s.Role, &s.AccessTokenID, &s.RefreshTokenID, &s.IP, &s.Fingerprint} {
		if err := short(dst); err != nil {
			return nil, err
		}
	}
	for _, dst := range []*string{&s.UserAgent, &s.FPComponents} {
		if err := long(dst); err != nil {
			return nil, err
		}
	}
	for _, dst := range []*int64{&s.CreatedAt, &s.LastActivity, &s.ExpiresAt, &s.RefreshExpiresAt} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, errCorruptBlob
		}
	}

	if r.Len() != 0 {
		return nil, errCorruptBlob
	}

	return s, nil
}
