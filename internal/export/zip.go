package export

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
)

// MetadataFilename is the sidecar entry of zipped exports.
const MetadataFilename = "metadata.txt"

// Entry is one file of a zip archive.
type Entry struct {
	Name string
	Body io.Reader
}

// TextEntry wraps an in-memory file.
func TextEntry(name string, data []byte) Entry {
	return Entry{Name: name, Body: bytes.NewReader(data)}
}

// WriteZip writes entries as deflate-compressed files to w.
func WriteZip(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	modified := time.Now().UTC()
	for _, e := range entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.Name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			_ = zw.Close()
			return fmt.Errorf("zip entry %s: %w", e.Name, err)
		}
		if _, err := io.Copy(fw, e.Body); err != nil {
			_ = zw.Close()
			return fmt.Errorf("zip entry %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

// Zip packages entries into an attachment named filename.
func Zip(filename string, entries []Entry) (*Artifact, error) {
	var buf bytes.Buffer
	if err := WriteZip(&buf, entries); err != nil {
		return nil, err
	}
	a := Bytes(filename, ContentTypeZip, buf.Bytes())
	a.Attachment = true
	return a, nil
}

// WithMetadata zips payload next to the metadata sidecar.
func WithMetadata(zipName, payloadName string, payload []byte, metadata string) (*Artifact, error) {
	return Zip(zipName, []Entry{
		TextEntry(MetadataFilename, []byte(metadata)),
		TextEntry(payloadName, payload),
	})
}
