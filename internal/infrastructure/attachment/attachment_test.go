package attachment

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"chatsync/pkg/errors"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func dataURI(mime string, raw []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		maxBytes int
		code     string
	}{
		{name: "empty payload", payload: ""},
		{name: "png data uri", payload: dataURI("image/png", pngHeader), maxBytes: 1024},
		{name: "bare base64 gif", payload: base64.StdEncoding.EncodeToString([]byte("GIF89a\x01\x00\x01\x00")), maxBytes: 1024},
		{name: "no limit", payload: dataURI("image/png", pngHeader)},
		{name: "data uri without base64", payload: "data:image/png,abc", code: errors.CodeBadRequest},
		{name: "data uri without comma", payload: "data:image/png;base64", code: errors.CodeBadRequest},
		{name: "invalid base64", payload: "data:image/png;base64,!!!", code: errors.CodeBadRequest},
		{name: "too large", payload: dataURI("image/png", append(pngHeader, make([]byte, 4096)...)), maxBytes: 1024, code: errors.CodeAttachmentTooLarge},
		{name: "not an image", payload: dataURI("text/plain", []byte(strings.Repeat("hello ", 10))), maxBytes: 1024, code: errors.CodeUnsupportedAttachment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.payload, tt.maxBytes)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}
}
