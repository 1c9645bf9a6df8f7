// Package media decodes uploaded images and recordings and checks what they are.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxUploadSize bounds a single decoded image or recording.
const MaxUploadSize = 10 << 20

// Kind selects the set of accepted content types.
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

var (
	// ErrEmpty is returned for a missing payload.
	ErrEmpty = errors.New("empty payload")
	// ErrMalformed is returned when a data URL or base64 payload cannot be decoded.
	ErrMalformed = errors.New("malformed payload")
	// ErrTooLarge is returned when the payload exceeds MaxUploadSize.
	ErrTooLarge = errors.New("payload too large")
	// ErrUnsupportedType is returned when the sniffed type is not accepted for the kind.
	ErrUnsupportedType = errors.New("unsupported media type")
)

var accepted = map[Kind][]string{
	KindImage: {"image/jpeg", "image/png", "image/gif", "image/webp"},
	KindAudio: {
		"audio/wav", "audio/webm", "video/webm", "audio/ogg", "audio/mpeg",
		"audio/mp4", "audio/x-m4a", "video/mp4", "audio/flac",
	},
}

// Payload is validated upload content.
type Payload struct {
	Data     []byte
	MIMEType string
}

// DecodeDataURL decodes "data:<mime>;base64,<payload>". A bare base64 string
// without a comma is decoded as-is.
func DecodeDataURL(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrEmpty
	}
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		value = value[idx+1:]
	}
	if base64.StdEncoding.DecodedLen(len(value)) > MaxUploadSize+3 {
		return nil, ErrTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}

// ReadLimited reads r up to MaxUploadSize and fails with ErrTooLarge beyond it.
func ReadLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxUploadSize {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}

// Validate sniffs data and checks it against the types accepted for kind.
func Validate(kind Kind, data []byte) (*Payload, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if len(data) > MaxUploadSize {
		return nil, ErrTooLarge
	}

	mtype := mimetype.Detect(data)
	for _, allowed := range accepted[kind] {
		if mtype.Is(allowed) {
			return &Payload{Data: data, MIMEType: allowed}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s upload detected as %s", ErrUnsupportedType, kind, mtype.String())
}
