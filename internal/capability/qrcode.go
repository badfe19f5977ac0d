package capability

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyImage is returned for a QR payload with no content.
var ErrEmptyImage = errors.New("empty QR image payload")

// IsImageURL reports whether payload points at a remote image rather
// than carrying it inline.
func IsImageURL(payload string) bool {
	u, err := url.Parse(payload)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// DecodeImage returns the raw bytes of an inline QR payload and its
// media type when known.  It accepts data URLs (base64 or percent
// encoded) and bare base64 in standard or unpadded form.
func DecodeImage(payload string) (data []byte, mediaType string, err error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", ErrEmptyImage
	}

	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		meta, body, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("malformed data URL: missing ','")
		}
		// Some daemons put a space after the comma.
		body = strings.TrimSpace(body)
		mt, isBase64 := strings.CutSuffix(meta, ";base64")
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = mt[:i]
		}
		if !isBase64 {
			s, uerr := url.PathUnescape(body)
			if uerr != nil {
				return nil, "", fmt.Errorf("data URL body: %w", uerr)
			}
			return []byte(s), mt, nil
		}
		data, err = decodeBase64(body)
		if err != nil {
			return nil, "", fmt.Errorf("data URL body: %w", err)
		}
		return data, mt, nil
	}

	data, err = decodeBase64(payload)
	if err != nil {
		return nil, "", err
	}
	return data, "", nil
}

func decodeBase64(s string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// WriteImage decodes payload and writes it to path, replacing any
// previous code.  The file is readable only by the current user.
func WriteImage(path, payload string) (int, error) {
	data, _, err := DecodeImage(payload)
	if err != nil {
		return 0, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}

	// Write next to the target and rename so a viewer never sees a
	// half-written image.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return len(data), nil
}
