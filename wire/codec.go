// Package wire frames and encodes chat records for transport over a
// persistent byte stream. Records are self-delimiting: a fixed header
// carrying a magic marker and the body length, followed by a versioned,
// kind-tagged body. Either side can resynchronize failure handling on a
// record boundary because a short or corrupt frame is always an error,
// never a partial decode.
package wire

import (
	"encoding/binary"
	"io"
)

// Writer encodes fixed-width integers, booleans and length-prefixed
// strings in network byte order.
type Writer struct {
	writer io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{writer: w}
}

func (w *Writer) WriteUint8(value uint8) error {
	_, err := w.writer.Write([]byte{value})
	return err
}

func (w *Writer) WriteUint16(value uint16) error {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, value)
	_, err := w.writer.Write(buf)

	return err
}

func (w *Writer) WriteUint32(value uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, value)
	_, err := w.writer.Write(buf)

	return err
}

func (w *Writer) WriteBool(value bool) error {
	var b uint8
	if value {
		b = 1
	}

	return w.WriteUint8(b)
}

func (w *Writer) WriteString(value string) error {
	if err := w.WriteUint32(uint32(len(value))); err != nil {
		return err
	}

	_, err := io.WriteString(w.writer, value)

	return err
}

// Reader decodes what Writer encodes. Short reads surface as
// io.ErrUnexpectedEOF rather than zero values.
type Reader struct {
	reader io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{reader: r}
}

func (r *Reader) ReadUint8() (uint8, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r.reader, buf); err != nil {
		return 0, err
	}

	return buf[0], nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r.reader, buf); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(buf), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r.reader, buf); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(buf), nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadUint8()
	if err != nil {
		return false, err
	}

	return b != 0, nil
}

func (r *Reader) ReadString() (string, error) {
	length, err := r.ReadUint32()
	if err != nil {
		return "", err
	}

	// Length is attacker-controlled; bound it before allocating.
	if length > maxFrameSize {
		return "", ErrFrameTooLarge
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r.reader, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}
