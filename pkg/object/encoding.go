package object

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"unicode/utf8"
)

// Encoding tags how blob content travels over a text channel.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingBase64 Encoding = "base64"
)

// sniffLen matches the prefix Git inspects when deciding whether a file
// is binary.
const sniffLen = 8000

// ParseEncoding accepts the wire names plus the "utf8" spelling.
func ParseEncoding(raw string) (Encoding, error) {
	switch raw {
	case "utf-8", "utf8", "":
		return EncodingUTF8, nil
	case "base64":
		return EncodingBase64, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", raw)
	}
}

// DetectEncoding picks utf-8 for text content and base64 for anything
// with NUL bytes in its first 8000 bytes or invalid UTF-8.
func DetectEncoding(data []byte) Encoding {
	if IsText(data) {
		return EncodingUTF8
	}
	return EncodingBase64
}

// IsText reports whether data can be sent over the utf-8 channel without
// loss.
func IsText(data []byte) bool {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return false
	}
	return utf8.Valid(data)
}

// EncodeContent renders data in the given encoding.
func EncodeContent(data []byte, enc Encoding) (string, error) {
	switch enc {
	case EncodingUTF8:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("content is not valid utf-8")
		}
		return string(data), nil
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(data), nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", enc)
	}
}

// DecodeContent reverses EncodeContent.
func DecodeContent(content string, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingUTF8:
		if !utf8.ValidString(content) {
			return nil, fmt.Errorf("content is not valid utf-8")
		}
		return []byte(content), nil
	case EncodingBase64:
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("decode base64 content: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}
