// Package attachment checks inlined image payloads before they reach the
// outbox. Payloads are data URIs ("data:image/png;base64,...") or bare
// base64.
package attachment

import (
	"encoding/base64"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"chatsync/pkg/errors"
)

// Validate rejects payloads that do not decode, decode to more than
// maxBytes, or are not images. An empty payload is valid (no attachment).
func Validate(payload string, maxBytes int) error {
	if payload == "" {
		return nil
	}

	encoded := payload
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 || !strings.Contains(payload[:comma], ";base64") {
			return errors.BadRequest("Attachment must be a base64 data URI", nil)
		}
		encoded = payload[comma+1:]
	}

	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(encoded)) > maxBytes+2 {
		return errors.AttachmentTooLarge(maxBytes)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errors.BadRequest("Attachment is not valid base64", err)
	}
	if maxBytes > 0 && len(raw) > maxBytes {
		return errors.AttachmentTooLarge(maxBytes)
	}

	mt := mimetype.Detect(raw)
	if !strings.HasPrefix(mt.String(), "image/") {
		return errors.UnsupportedAttachment(mt.String())
	}
	return nil
}
