package qaspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf16"
)

// FallbackExtension is used for attachments with a mime type missing from
// the extension table.
const FallbackExtension = "bin"

var mimeTypeExtensions = map[string]string{
	"image/bmp":     "bmp",
	"image/gif":     "gif",
	"image/jpeg":    "jpg",
	"image/png":     "png",
	"image/svg+xml": "svg",
	"video/ogg":     "ogg",
	"text/plain":    "txt",
}

// ExtensionFor returns the file extension for a mime type. Unknown mime types
// return FallbackExtension and false.
func ExtensionFor(mimeType string) (string, bool) {
	ext, ok := mimeTypeExtensions[mimeType]
	if !ok {
		return FallbackExtension, false
	}

	return ext, true
}

const attachmentTimeLayout = "2006-01-02T15-04-05.000000"

// maxNameCollisions bounds the suffixes tried when attachments are written
// within the same microsecond.
const maxNameCollisions = 100

// writeAttachmentFile creates attachment_<timestamp>.<ext> in dir and writes
// data to it. The file is created exclusively, on collision a numeric suffix
// is added.
func writeAttachmentFile(dir string, now time.Time, ext string, data []byte) (string, error) {
	base := "attachment_" + now.Format(attachmentTimeLayout)

	for i := 0; i < maxNameCollisions; i++ {
		name := base
		if i > 0 {
			name += fmt.Sprintf("_%d", i)
		}

		path := filepath.Join(dir, name+"."+ext)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		} else if err != nil {
			return "", fmt.Errorf("creating attachment file: %w", err)
		}

		_, err = f.Write(data)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("writing attachment file %s: %w", path, err)
		}

		return path, nil
	}

	return "", fmt.Errorf("creating attachment file %s: too many files with the same name", base)
}

// EscapeJSON escapes text so that it can be embedded in a JSON string: quotes,
// backslashes and slashes are escaped, control characters use their short form
// and everything outside printable ASCII becomes a \uXXXX sequence.
func EscapeJSON(text string) string {
	var b strings.Builder

	b.Grow(len(text))

	for _, r := range text {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '/':
			b.WriteString(`\/`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r >= 0x20 && r <= 0x7f {
				b.WriteRune(r)
				continue
			}

			if r1, r2 := utf16.EncodeRune(r); r1 != unicode.ReplacementChar {
				fmt.Fprintf(&b, `\u%04X\u%04X`, r1, r2)
			} else {
				fmt.Fprintf(&b, `\u%04X`, r)
			}
		}
	}

	return b.String()
}
