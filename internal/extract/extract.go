// Package extract turns uploaded file bytes into plain text suitable for
// chunking. Supported formats: PDF, DOCX, HTML, TXT, and Markdown; anything
// else is treated as plain text.
package extract

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// FromBytes extracts text from content based on the filename extension and
// returns the text together with the normalized content type label stored
// on the document record.
func FromBytes(content []byte, filename string) (text string, contentType string, err error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		text, err = fromPDF(content)
		return text, "pdf", err
	case ".docx":
		text, err = fromDOCX(content)
		return text, "docx", err
	case ".html", ".htm":
		return fromHTML(content), "html", nil
	case ".md":
		return fromPlain(content), "md", nil
	case ".txt":
		return fromPlain(content), "txt", nil
	default:
		return fromPlain(content), strings.TrimPrefix(ext, "."), nil
	}
}

// fromPlain returns the content as a string with invalid UTF-8 sequences
// replaced, so downstream chunking never sees broken runes.
func fromPlain(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	return strings.ToValidUTF8(string(content), "�")
}
