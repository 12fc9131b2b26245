package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/huddlenet/huddle/chat"
)

const (
	frameMagic      uint16 = 0x4844
	protocolVersion uint8  = 1

	headerSize   = 6
	maxFrameSize = 1 << 20
	maxListLen   = 1 << 16
)

var (
	// ErrBadMagic means the stream is not positioned at a frame boundary
	// (or the peer is not speaking this protocol at all).
	ErrBadMagic = errors.New("bad frame magic")

	// ErrFrameTooLarge means a frame or list declared a size beyond the
	// protocol limit.
	ErrFrameTooLarge = errors.New("frame exceeds size limit")

	// ErrUnsupportedVersion means the peer speaks a protocol revision this
	// build does not understand.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
)

// Optional-field presence bits in the body flags byte.
const (
	flagRecipient uint8 = 1 << iota
	flagCoordinatorID
	flagCoordinator
	flagNames
)

// WriteMessage encodes msg into a single frame and writes it with one Write
// call, so concurrent writers serialized by a caller-side lock cannot
// interleave partial frames.
func WriteMessage(w io.Writer, msg *chat.Message) error {
	body, err := encodeBody(msg)
	if err != nil {
		return err
	}

	if len(body) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	frame := make([]byte, headerSize, headerSize+len(body))
	binary.BigEndian.PutUint16(frame[0:2], frameMagic)
	binary.BigEndian.PutUint32(frame[2:6], uint32(len(body)))
	frame = append(frame, body...)

	_, err = w.Write(frame)

	return err
}

// ReadMessage reads exactly one frame from the stream. A clean close on a
// frame boundary surfaces as io.EOF; a close mid-frame as
// io.ErrUnexpectedEOF.
func ReadMessage(r io.Reader) (*chat.Message, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if binary.BigEndian.Uint16(header[0:2]) != frameMagic {
		return nil, ErrBadMagic
	}

	size := binary.BigEndian.Uint32(header[2:6])
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}

		return nil, err
	}

	return decodeBody(bytes.NewReader(body))
}

func encodeBody(msg *chat.Message) ([]byte, error) {
	if !msg.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", chat.ErrUnknownKind, msg.Kind)
	}

	var flags uint8
	if msg.Recipient != "" {
		flags |= flagRecipient
	}
	if msg.CoordinatorID != "" {
		flags |= flagCoordinatorID
	}
	if msg.Coordinator {
		flags |= flagCoordinator
	}
	if len(msg.Names) > 0 {
		flags |= flagNames
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteUint8(protocolVersion); err != nil {
		return nil, err
	}
	if err := w.WriteUint8(uint8(msg.Kind)); err != nil {
		return nil, err
	}
	if err := w.WriteUint8(flags); err != nil {
		return nil, err
	}
	if err := w.WriteString(msg.Sender); err != nil {
		return nil, err
	}

	if flags&flagRecipient != 0 {
		if err := w.WriteString(msg.Recipient); err != nil {
			return nil, err
		}
	}

	if flags&flagCoordinatorID != 0 {
		if err := w.WriteString(msg.CoordinatorID); err != nil {
			return nil, err
		}
	}

	if err := encodePayload(w, msg); err != nil {
		return nil, err
	}

	if flags&flagNames != 0 {
		if err := w.WriteUint32(uint32(len(msg.Names))); err != nil {
			return nil, err
		}

		for _, name := range msg.Names {
			if err := w.WriteString(name); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

// encodePayload writes the kind-tagged payload: member snapshots for
// KindMemberList, free text for every other kind. The tag is the kind
// itself, so a mismatched payload cannot be expressed on the wire.
func encodePayload(w *Writer, msg *chat.Message) error {
	if msg.Kind != chat.KindMemberList {
		return w.WriteString(msg.Text)
	}

	if err := w.WriteUint32(uint32(len(msg.Members))); err != nil {
		return err
	}

	for _, m := range msg.Members {
		for _, err := range []error{
			w.WriteString(m.ID),
			w.WriteString(m.Addr),
			w.WriteUint32(uint32(m.Port)),
			w.WriteBool(m.Coordinator),
		} {
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func decodeBody(r io.Reader) (*chat.Message, error) {
	br := NewReader(r)

	version, err := br.ReadUint8()
	if err != nil {
		return nil, err
	}

	if version != protocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	rawKind, err := br.ReadUint8()
	if err != nil {
		return nil, err
	}

	kind := chat.Kind(rawKind)
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", chat.ErrUnknownKind, rawKind)
	}

	flags, err := br.ReadUint8()
	if err != nil {
		return nil, err
	}

	sender, err := br.ReadString()
	if err != nil {
		return nil, err
	}

	msg := &chat.Message{
		Kind:        kind,
		Sender:      sender,
		Coordinator: flags&flagCoordinator != 0,
	}

	if flags&flagRecipient != 0 {
		if msg.Recipient, err = br.ReadString(); err != nil {
			return nil, err
		}
	}

	if flags&flagCoordinatorID != 0 {
		if msg.CoordinatorID, err = br.ReadString(); err != nil {
			return nil, err
		}
	}

	if err := decodePayload(br, msg); err != nil {
		return nil, err
	}

	if flags&flagNames != 0 {
		count, err := br.ReadUint32()
		if err != nil {
			return nil, err
		}

		if count > maxListLen {
			return nil, fmt.Errorf("%w: %d names", ErrFrameTooLarge, count)
		}

		msg.Names = make([]string, 0, count)

		for i := uint32(0); i < count; i++ {
			name, err := br.ReadString()
			if err != nil {
				return nil, err
			}

			msg.Names = append(msg.Names, name)
		}
	}

	return msg, nil
}

func decodePayload(br *Reader, msg *chat.Message) error {
	if msg.Kind != chat.KindMemberList {
		text, err := br.ReadString()
		if err != nil {
			return err
		}

		msg.Text = text

		return nil
	}

	count, err := br.ReadUint32()
	if err != nil {
		return err
	}

	if count > maxListLen {
		return fmt.Errorf("%w: %d members", ErrFrameTooLarge, count)
	}

	msg.Members = make([]chat.MemberInfo, 0, count)

	for i := uint32(0); i < count; i++ {
		var m chat.MemberInfo

		if m.ID, err = br.ReadString(); err != nil {
			return err
		}
		if m.Addr, err = br.ReadString(); err != nil {
			return err
		}

		port, err := br.ReadUint32()
		if err != nil {
			return err
		}
		m.Port = int(port)

		if m.Coordinator, err = br.ReadBool(); err != nil {
			return err
		}

		msg.Members = append(msg.Members, m)
	}

	return nil
}
