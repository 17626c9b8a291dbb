package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf16"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func utf16LE(s string) []byte {
	return append([]byte{0xFF, 0xFE}, utf16LENoBOM(s)...)
}

func utf16LENoBOM(s string) []byte {
	var out []byte
	for _, u := range utf16.Encode([]rune(s)) {
		out = append(out, byte(u), byte(u>>8))
	}
	return out
}

func TestTextDecodings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		want     string
		encoding string
	}{
		{name: "utf8", data: []byte("Jane Doe\njane@example.com"), want: "Jane Doe\njane@example.com", encoding: "utf-8"},
		{name: "utf8 bom", data: append([]byte{0xEF, 0xBB, 0xBF}, []byte("Résumé")...), want: "Résumé", encoding: "utf-8"},
		{name: "utf16 bom", data: utf16LE("Jane Doe, Engineer"), want: "Jane Doe, Engineer", encoding: "utf-16"},
		{name: "utf16 no bom", data: utf16LENoBOM("Jane Doe\nSoftware Engineer, Zürich"), want: "Jane Doe\nSoftware Engineer, Zürich", encoding: "utf-16le"},
		{name: "latin1", data: []byte("Jos\xe9 Garc\xeda\nIngeniero"), want: "José García\nIngeniero", encoding: "iso-8859-1"},
		{name: "windows1252 smart quotes", data: []byte("\x93Lead\x94 engineer"), want: "“Lead” engineer", encoding: "windows-1252"},
		{name: "empty", data: []byte{}, want: "", encoding: "utf-8"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := Text(context.Background(), tt.data)
			if err != nil {
				t.Fatalf("Text: %v", err)
			}
			if res.Text != tt.want {
				t.Fatalf("text = %q, want %q", res.Text, tt.want)
			}
			if res.Encoding != tt.encoding {
				t.Fatalf("encoding = %q, want %q", res.Encoding, tt.encoding)
			}
			if res.Format != FormatText {
				t.Fatalf("format = %q", res.Format)
			}
		})
	}
}

func TestTextRejectsBinaryNoise(t *testing.T) {
	t.Parallel()

	noise := bytes.Repeat([]byte{0x00, 0x01, 0x02, 0x8F, 0x03}, 50)
	_, err := Text(context.Background(), noise)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestPDFSignatureNeverDecodedAsText(t *testing.T) {
	t.Parallel()

	inputs := [][]byte{
		[]byte("%PDF-1.4\nJane Doe plain text that would decode fine"),
		[]byte("%PDF-"),
		append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte("x"), 2048)...),
	}
	for _, data := range inputs {
		if got := Sniff(data); got != FormatPDF {
			t.Fatalf("Sniff = %q, want pdf", got)
		}
		res, err := Text(context.Background(), data)
		if err == nil {
			t.Fatalf("expected pdf extraction failure, got %+v", res)
		}
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
		}
		if res.Format == FormatText {
			t.Fatalf("pdf payload fell through to text decoding")
		}
	}
}

func TestTextDOCX(t *testing.T) {
	t.Parallel()

	doc := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Jane Doe</w:t></w:r></w:p>
<w:p><w:r><w:t>Senior Engineer</w:t></w:r></w:p>
</w:body></w:document>`
	data := buildZip(t, map[string]string{"word/document.xml": doc})

	res, err := Text(context.Background(), data)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if res.Format != FormatDOCX {
		t.Fatalf("format = %q, want docx", res.Format)
	}
	if !strings.Contains(res.Text, "Jane Doe") || !strings.Contains(res.Text, "Senior Engineer") {
		t.Fatalf("unexpected docx text: %q", res.Text)
	}
}

func TestTextRejectsPlainZip(t *testing.T) {
	t.Parallel()

	data := buildZip(t, map[string]string{"notes.txt": "hello"})
	_, err := Text(context.Background(), data)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestTextHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Text(ctx, []byte("hello")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
