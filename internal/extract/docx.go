package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// docxDocumentPath is the main document body inside a .docx package.
const docxDocumentPath = "word/document.xml"

// textNode matches <w:t>...</w:t> runs regardless of attributes, so content
// survives paragraph and run formatting.
var textNode = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// paragraphEnd marks paragraph boundaries so extracted text keeps some
// structure for the chunker to split on.
var paragraphEnd = regexp.MustCompile(`</w:p>`)

func fromDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extracting DOCX: not a zip archive: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name != docxDocumentPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("extracting DOCX: opening %s: %w", f.Name, err)
		}
		docXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("extracting DOCX: reading %s: %w", f.Name, err)
		}
		break
	}
	if docXML == nil {
		return "", fmt.Errorf("extracting DOCX: %s not found", docxDocumentPath)
	}

	// Turn paragraph closers into newlines first, then collect text runs.
	normalized := paragraphEnd.ReplaceAllString(string(docXML), "\n")

	var b strings.Builder
	for _, line := range strings.Split(normalized, "\n") {
		runs := textNode.FindAllStringSubmatch(line, -1)
		if len(runs) == 0 {
			continue
		}
		for _, r := range runs {
			b.WriteString(r[1])
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}
