package credentials

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

const formatVersionCurrent = 2

// CurrentFormatVersion is the version byte Encode writes.
const CurrentFormatVersion = formatVersionCurrent

const maxTokenLen = math.MaxUint16

// Encode serializes s. Layout (v2):
//
//	version(1) | accessLen(2) access | refreshLen(2) refresh | accessExp(8) | refreshExp(8)
//
// Expiries are Unix seconds, 0 when unknown.
func Encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, ErrEmptySession
	}
	if len(s.AccessToken) > maxTokenLen {
		return nil, errors.New("access token too long")
	}
	if len(s.RefreshToken) > maxTokenLen {
		return nil, errors.New("refresh token too long")
	}

	var buf bytes.Buffer
	buf.Grow(1 + 2 + len(s.AccessToken) + 2 + len(s.RefreshToken) + 16)
	buf.WriteByte(formatVersionCurrent)

	writeString(&buf, s.AccessToken)
	writeString(&buf, s.RefreshToken)

	if err := binary.Write(&buf, binary.BigEndian, unixOrZero(s.AccessExpiresAt)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, unixOrZero(s.RefreshExpiresAt)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob written by Encode. Other version bytes are rejected.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != formatVersionCurrent {
		return nil, fmt.Errorf("unsupported credential format version %d", version)
	}

	s := &Session{}
	if s.AccessToken, err = readString(reader); err != nil {
		return nil, err
	}
	if s.RefreshToken, err = readString(reader); err != nil {
		return nil, err
	}

	var accessExp, refreshExp int64
	if err := binary.Read(reader, binary.BigEndian, &accessExp); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &refreshExp); err != nil {
		return nil, err
	}
	s.AccessExpiresAt = timeOrZero(accessExp)
	s.RefreshExpiresAt = timeOrZero(refreshExp)

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes after credential blob")
	}
	if s.AccessToken == "" {
		return nil, ErrEmptySession
	}
	return s, nil
}

func writeString(buf *bytes.Buffer, s string) {
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
