package transfer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const savedNameLayout = "20060102_150405"

// Storage owns the staging and storage directories.
type Storage struct {
	stagingDir string
	storageDir string
}

// NewStorage creates both directories if needed.
func NewStorage(stagingDir, storageDir string) (*Storage, error) {
	for _, dir := range []string{stagingDir, storageDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Storage{stagingDir: stagingDir, storageDir: storageDir}, nil
}

// StagingDir returns the staging directory.
func (s *Storage) StagingDir() string { return s.stagingDir }

// StorageDir returns the storage directory.
func (s *Storage) StorageDir() string { return s.storageDir }

// Stage creates a fresh, empty staging file and returns its path.
func (s *Storage) Stage() (string, error) {
	f, err := os.CreateTemp(s.stagingDir, "transfer-*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	return name, nil
}

// Persist copies a staging file into the storage directory as
// "<YYYYMMDD_HHMMSS>_<name>" and returns the destination path and size.
// An existing file is never overwritten.
func (s *Storage) Persist(stagingPath, name string, at time.Time) (string, int64, error) {
	src, err := os.Open(stagingPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open staging file: %w", err)
	}
	defer src.Close()

	dst, path, err := s.createUnique(at.Format(savedNameLayout) + "_" + name)
	if err != nil {
		return "", 0, err
	}

	n, err := io.Copy(dst, src)
	if err == nil {
		err = dst.Sync()
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, n, nil
}

func (s *Storage) createUnique(name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 100; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(s.storageDir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("failed to create %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("failed to create %s: too many name collisions", name)
}

// Discard removes a staging file. A file that is already gone is not an error.
func (s *Storage) Discard(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to remove staging file %s: %v", path, err)
	}
}

// decodePayload decodes the assembled chunk text. It accepts padded and
// unpadded standard base64 with an optional "data:<type>;base64," prefix.
func decodePayload(payload []byte) ([]byte, error) {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "data:") {
		if i := strings.IndexByte(text, ','); i >= 0 && strings.Contains(text[:i], ";base64") {
			text = text[i+1:]
		}
	}

	data, err := base64.StdEncoding.DecodeString(text)
	if err == nil {
		return data, nil
	}
	if raw, rerr := base64.RawStdEncoding.DecodeString(strings.TrimRight(text, "=")); rerr == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("failed to decode base64 payload: %w", err)
}

// mediaType returns the lowercased media type without parameters.
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func isJSON(mt string) bool {
	return mt == "application/json" || mt == "text/json" || strings.HasSuffix(mt, "+json")
}

// formatJSON validates a JSON document and re-serializes it indented with two
// spaces. Key order is kept, numbers are copied verbatim, and strings are
// written as literal UTF-8 without HTML escaping, so \uXXXX escapes in the
// input come out as the characters they denote.
func formatJSON(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var compact bytes.Buffer
	if err := reencodeJSON(dec, &compact); err != nil {
		return nil, fmt.Errorf("failed to parse JSON payload: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("failed to parse JSON payload: unexpected data after top-level value")
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, compact.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("failed to format JSON payload: %w", err)
	}
	return buf.Bytes(), nil
}

// reencodeJSON copies one value from dec to buf in compact form.
func reencodeJSON(dec *json.Decoder, buf *bytes.Buffer) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	switch t := tok.(type) {
	case json.Delim:
		if t != '{' && t != '[' {
			return fmt.Errorf("unexpected %q", rune(t))
		}
		buf.WriteByte(byte(t))
		for i := 0; dec.More(); i++ {
			if i > 0 {
				buf.WriteByte(',')
			}
			if t == '{' {
				key, err := dec.Token()
				if err != nil {
					return err
				}
				if err := writeJSONString(buf, key.(string)); err != nil {
					return err
				}
				buf.WriteByte(':')
			}
			if err := reencodeJSON(dec, buf); err != nil {
				return err
			}
		}
		end, err := dec.Token()
		if err != nil {
			return err
		}
		buf.WriteByte(byte(end.(json.Delim)))
	case string:
		return writeJSONString(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode terminates every value with a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}

// sanitizeFileName keeps only the final path element of a client-supplied name.
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	switch name {
	case ".", "..", "/", "":
		return ""
	}
	return name
}

// defaultFileName derives a name from the declared content type, falling back
// to sniffing the decoded bytes when no type was declared.
func defaultFileName(contentType string, data []byte) string {
	mt := mediaType(contentType)
	detected := mimetype.Lookup(mt)
	if detected == nil {
		detected = mimetype.Detect(data)
	}
	if mt == "" {
		mt = mediaType(detected.String())
	}

	switch {
	case isJSON(mt):
		return "data.json"
	case strings.HasPrefix(mt, "text/"):
		return "file.txt"
	case strings.HasPrefix(mt, "image/"):
		return "image" + detected.Extension()
	default:
		ext := detected.Extension()
		if ext == "" {
			ext = ".bin"
		}
		return "file" + ext
	}
}
