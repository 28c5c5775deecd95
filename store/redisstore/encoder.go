package redisstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/accountcore/store"
)

const (
	sessionFormatVersion = 1
	tokenFormatVersion   = 1
)

var errCorrupt = errors.New("redisstore: corrupt record")

func encodeSession(s *store.Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(sessionFormatVersion)

	for _, v := range []string{s.ID, s.UserID, s.TokenHash, s.UserAgent, s.IP} {
		if err := writeString(&buf, v); err != nil {
			return nil, err
		}
	}
	for _, t := range []time.Time{s.CreatedAt, s.ExpiresAt, s.LastUsedAt} {
		if err := writeTime(&buf, t); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeSession(data []byte) (*store.Session, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersion {
		return nil, errCorrupt
	}

	s := &store.Session{}
	for _, dst := range []*string{&s.ID, &s.UserID, &s.TokenHash, &s.UserAgent, &s.IP} {
		if *dst, err = readString(r); err != nil {
			return nil, err
		}
	}
	for _, dst := range []*time.Time{&s.CreatedAt, &s.ExpiresAt, &s.LastUsedAt} {
		if *dst, err = readTime(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func encodeToken(t *store.Token) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(tokenFormatVersion)

	for _, v := range []string{t.Hash, string(t.Kind), t.UserID} {
		if err := writeString(&buf, v); err != nil {
			return nil, err
		}
	}
	for _, v := range []time.Time{t.CreatedAt, t.ExpiresAt, t.UsedAt} {
		if err := writeTime(&buf, v); err != nil {
			return nil, err
		}
	}
	var superseded byte
	if t.Superseded {
		superseded = 1
	}
	buf.WriteByte(superseded)
	if err := binary.Write(&buf, binary.BigEndian, uint32(t.Attempts)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeToken(data []byte) (*store.Token, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenFormatVersion {
		return nil, errCorrupt
	}

	t := &store.Token{}
	var kind string
	for _, dst := range []*string{&t.Hash, &kind, &t.UserID} {
		if *dst, err = readString(r); err != nil {
			return nil, err
		}
	}
	t.Kind = store.TokenKind(kind)
	for _, dst := range []*time.Time{&t.CreatedAt, &t.ExpiresAt, &t.UsedAt} {
		if *dst, err = readTime(r); err != nil {
			return nil, err
		}
	}
	superseded, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	t.Superseded = superseded == 1
	var attempts uint32
	if err := binary.Read(r, binary.BigEndian, &attempts); err != nil {
		return nil, err
	}
	t.Attempts = int(attempts)
	return t, nil
}

func writeString(buf *bytes.Buffer, v string) error {
	if len(v) > 65535 {
		return errors.New("redisstore: field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(v))); err != nil {
		return err
	}
	buf.WriteString(v)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// Zero times are stored as 0.
func writeTime(buf *bytes.Buffer, t time.Time) error {
	var v int64
	if !t.IsZero() {
		v = t.UnixNano()
	}
	return binary.Write(buf, binary.BigEndian, v)
}

func readTime(r *bytes.Reader) (time.Time, error) {
	var v int64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return time.Time{}, err
	}
	if v == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, v).UTC(), nil
}
