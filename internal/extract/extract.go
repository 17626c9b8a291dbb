// Package extract classifies raw resume payloads and returns their plain text.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
)

// Format names returned in Result.
const (
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
	FormatText = "text"
	FormatZip  = "zip"
)

// ErrUnsupportedFormat is returned when no extraction or decoding succeeds.
var ErrUnsupportedFormat = errors.New("unsupported format")

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

// Result is the extracted text plus how it was obtained.
type Result struct {
	Text     string
	Format   string
	Encoding string
}

type fallback struct {
	name    string
	decoder func() *encoding.Decoder
	strict  func([]byte) bool
}

// Tried in order once UTF-8 fails.
var fallbacks = []fallback{
	{
		name:    "utf-16",
		decoder: xunicode.UTF16(xunicode.LittleEndian, xunicode.ExpectBOM).NewDecoder,
		strict:  func(b []byte) bool { return len(b)%2 == 0 },
	},
	{
		name:    "utf-16le",
		decoder: xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM).NewDecoder,
		strict:  looksUTF16LE,
	},
	{
		name:    "iso-8859-1",
		decoder: charmap.ISO8859_1.NewDecoder,
		strict:  noC1Bytes,
	},
	{
		name:    "windows-1252",
		decoder: charmap.Windows1252.NewDecoder,
	},
}

// Sniff reports the format implied by the byte signature.
func Sniff(data []byte) string {
	switch {
	case bytes.HasPrefix(data, pdfMagic):
		return FormatPDF
	case bytes.HasPrefix(data, zipMagic):
		if hasZipEntry(data, "word/document.xml") {
			return FormatDOCX
		}
		return FormatZip
	default:
		return FormatText
	}
}

// Text extracts plain text from data. Binary documents are never decoded as raw text.
func Text(ctx context.Context, data []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	switch format := Sniff(data); format {
	case FormatPDF:
		text, err := extractPDF(data)
		if err != nil {
			return Result{}, fmt.Errorf("%w: pdf: %v", ErrUnsupportedFormat, err)
		}
		return Result{Text: text, Format: FormatPDF}, nil
	case FormatDOCX:
		text, err := extractDOCX(data)
		if err != nil {
			return Result{}, fmt.Errorf("%w: docx: %v", ErrUnsupportedFormat, err)
		}
		return Result{Text: text, Format: FormatDOCX}, nil
	case FormatZip:
		return Result{}, fmt.Errorf("%w: zip archive without a word document", ErrUnsupportedFormat)
	}
	return decodeText(data)
}

func decodeText(data []byte) (Result, error) {
	trimmed := bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(trimmed) && looksLikeText(string(trimmed)) {
		return Result{Text: string(trimmed), Format: FormatText, Encoding: "utf-8"}, nil
	}
	for _, fb := range fallbacks {
		if fb.strict != nil && !fb.strict(data) {
			continue
		}
		out, err := fb.decoder().Bytes(data)
		if err != nil {
			continue
		}
		text := string(out)
		if !looksLikeText(text) {
			continue
		}
		return Result{Text: text, Format: FormatText, Encoding: fb.name}, nil
	}
	return Result{}, fmt.Errorf("%w: no decoding produced text", ErrUnsupportedFormat)
}

// looksLikeText rejects decodings dominated by control characters or replacement runes.
func looksLikeText(s string) bool {
	var total, bad int
	for _, r := range s {
		total++
		switch {
		case r == '\n' || r == '\r' || r == '\t' || r == '\f':
		case r == utf8.RuneError || unicode.IsControl(r):
			bad++
		}
	}
	if total == 0 {
		return true
	}
	return bad*20 <= total
}

// looksUTF16LE accepts BOM-less input whose high bytes are mostly zero, as
// UTF-16LE text in Latin scripts is.
func looksUTF16LE(b []byte) bool {
	if len(b) < 2 || len(b)%2 != 0 {
		return false
	}
	var zeros int
	for i := 1; i < len(b); i += 2 {
		if b[i] == 0 {
			zeros++
		}
	}
	return zeros*2 >= len(b)/2
}

func noC1Bytes(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 && c <= 0x9F {
			return false
		}
	}
	return true
}

func extractPDF(data []byte) (text string, err error) {
	// The pdf reader panics on some truncated xref tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", errors.New("document.xml file not found")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return stripDocxXML(string(raw)), nil
}

func stripDocxXML(raw string) string {
	decoder := xml.NewDecoder(strings.NewReader(raw))
	var buf strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return raw
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.WriteString(string(t))
		case xml.EndElement:
			if (t.Name.Local == "p" || t.Name.Local == "br") && buf.Len() > 0 {
				buf.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

func hasZipEntry(data []byte, name string) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == name {
			return true
		}
	}
	return false
}
