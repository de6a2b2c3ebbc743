package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/MrEthical07/paradox/internal/fingerprint"
)

const recordFormatVersionCurrent = 1

// statusOffset and roundOffset are read by the Redis CAS script.
const (
	roundOffset  = 1
	statusOffset = 5
)

// Round flag bits.
const (
	roundFlagReferencesPrior = 1 << 0
	// roundFlagDilated is followed by the dilation factor in thousandths.
	roundFlagDilated = 1 << 1
)

// Encode serializes r. SessionID is not encoded; it is the storage key.
func Encode(r *Record) ([]byte, error) {
	if len(r.PriorAnswerDigests) > MaxPriorDigests {
		return nil, errors.New("too many prior answer digests")
	}
	if len(r.Round.Nonce) > 255 {
		return nil, errors.New("round nonce too long")
	}
	if len(r.Round.Kind) > 255 {
		return nil, errors.New("round kind too long")
	}
	if len(r.Round.Verifier) > math.MaxUint16 {
		return nil, errors.New("round verifier too large")
	}
	dilation := math.Round(r.Round.TimeDilation * 1000)
	if math.IsNaN(dilation) || dilation < 0 || dilation > math.MaxUint16 ||
		(r.Round.TimeDilation > 0 && dilation == 0) {
		return nil, errors.New("round time dilation out of range")
	}

	var buf bytes.Buffer
	buf.Grow(64 + len(r.PriorAnswerDigests)*fingerprint.Size + len(r.Round.Verifier))

	buf.WriteByte(recordFormatVersionCurrent)
	_ = binary.Write(&buf, binary.BigEndian, r.RoundIndex)
	buf.WriteByte(byte(r.Status))
	_ = binary.Write(&buf, binary.BigEndian, r.EscalationDepth)
	_ = binary.Write(&buf, binary.BigEndian, r.ConsecutivePasses)
	_ = binary.Write(&buf, binary.BigEndian, math.Float64bits(r.TrustScore))
	_ = binary.Write(&buf, binary.BigEndian, r.CreatedAt)
	_ = binary.Write(&buf, binary.BigEndian, r.ExpiresAt)

	buf.WriteByte(byte(len(r.PriorAnswerDigests)))
	for _, d := range r.PriorAnswerDigests {
		buf.Write(d.Bytes())
	}

	round := r.Round
	_ = binary.Write(&buf, binary.BigEndian, round.Index)
	buf.WriteByte(byte(len(round.Nonce)))
	buf.WriteString(round.Nonce)
	buf.WriteByte(byte(len(round.Kind)))
	buf.WriteString(round.Kind)
	_ = binary.Write(&buf, binary.BigEndian, round.Difficulty)
	_ = binary.Write(&buf, binary.BigEndian, round.IssuedAt)
	_ = binary.Write(&buf, binary.BigEndian, round.ExpiresAt)
	var flags byte
	if round.ReferencesPrior {
		flags |= roundFlagReferencesPrior
	}
	if dilation > 0 {
		flags |= roundFlagDilated
	}
	buf.WriteByte(flags)
	if dilation > 0 {
		_ = binary.Write(&buf, binary.BigEndian, uint16(dilation))
	}
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(round.Verifier)))
	buf.Write(round.Verifier)

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	r := &Record{}
	var trustBits uint64
	var status byte
	if err := binary.Read(reader, binary.BigEndian, &r.RoundIndex); err != nil {
		return nil, err
	}
	if status, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if r.Status < StatusActive || r.Status > StatusExpired {
		return nil, errors.New("invalid session status")
	}
	for _, dst := range []any{&r.EscalationDepth, &r.ConsecutivePasses, &trustBits, &r.CreatedAt, &r.ExpiresAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}
	r.TrustScore = math.Float64frombits(trustBits)
	if math.IsNaN(r.TrustScore) || r.TrustScore < 0 || r.TrustScore > 1 {
		return nil, errors.New("invalid trust score")
	}

	count, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if count > MaxPriorDigests {
		return nil, errors.New("too many prior answer digests")
	}
	raw := make([]byte, fingerprint.Size)
	for i := 0; i < int(count); i++ {
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		d, _ := fingerprint.FromBytes(raw)
		r.PriorAnswerDigests = append(r.PriorAnswerDigests, d)
	}

	if err := binary.Read(reader, binary.BigEndian, &r.Round.Index); err != nil {
		return nil, err
	}
	if r.Round.Nonce, err = readShortString(reader); err != nil {
		return nil, err
	}
	if r.Round.Kind, err = readShortString(reader); err != nil {
		return nil, err
	}
	for _, dst := range []any{&r.Round.Difficulty, &r.Round.IssuedAt, &r.Round.ExpiresAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}
	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	r.Round.ReferencesPrior = flags&roundFlagReferencesPrior != 0
	if flags&roundFlagDilated != 0 {
		var milli uint16
		if err := binary.Read(reader, binary.BigEndian, &milli); err != nil {
			return nil, err
		}
		if milli == 0 {
			return nil, errors.New("invalid round time dilation")
		}
		r.Round.TimeDilation = float64(milli) / 1000
	}

	var verifierLen uint16
	if err := binary.Read(reader, binary.BigEndian, &verifierLen); err != nil {
		return nil, err
	}
	if verifierLen > 0 {
		r.Round.Verifier = make([]byte, verifierLen)
		if _, err := io.ReadFull(reader, r.Round.Verifier); err != nil {
			return nil, err
		}
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session record")
	}
	return r, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
