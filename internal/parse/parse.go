// Package parse turns raw document bytes into the structured input the
// pipeline works on: title, inventor-style metadata, full text, and the
// section split the image stage fans out over.
// Libraries used: github.com/ledongthuc/pdf (PDF); DOCX is read as a zip of
// OOXML parts with the standard library.
package parse

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeText = "text/plain"

	// maxSections caps the image fan-out for very long documents.
	maxSections = 8
)

var (
	// ErrUnsupported is returned for document types the parser cannot read.
	ErrUnsupported = errors.New("unsupported document type")
	// ErrEmptyDocument is returned when a readable document has no text.
	ErrEmptyDocument = errors.New("document contains no text")
)

// Section is one contiguous slice of a document.
type Section struct {
	Heading string
	Text    string
}

// Document is a parsed submission.
type Document struct {
	Title     string
	Inventors []string
	FullText  string
	Sections  []Section
}

// Parse extracts text from the payload and derives title, inventors, and
// sections. It is synchronous and fallible; callers run it before creating
// any job record so a malformed document never costs anything.
func Parse(ctx context.Context, data []byte, mimeType, fileName string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if len(data) == 0 {
		return Document{}, ErrEmptyDocument
	}

	var (
		text string
		err  error
	)
	switch normalizeMimeType(mimeType, fileName, data) {
	case mimePDF:
		text, err = extractPDF(data)
	case mimeDOCX:
		text, err = extractDOCX(data)
	case mimeText:
		text = string(data)
	default:
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
	if err != nil {
		return Document{}, fmt.Errorf("parse %s: %w", fileName, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Document{}, ErrEmptyDocument
	}

	doc := Document{FullText: text}
	doc.Title = deriveTitle(text, fileName)
	doc.Inventors = deriveInventors(text)
	doc.Sections = splitSections(text)
	return doc, nil
}

func extractPDF(data []byte) (string, error) {
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
	readerAt := bytes.NewReader(data)
	zr, err := zip.NewReader(readerAt, int64(len(data)))
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
		return "", errors.New("document.xml not found")
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
			if t.Name.Local == "p" || t.Name.Local == "br" {
				if buf.Len() > 0 {
					buf.WriteString("\n")
				}
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

func normalizeMimeType(mimeType, fileName string, data []byte) string {
	clean := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	switch clean {
	case mimePDF, mimeDOCX, mimeText, "":
	case "application/zip", "application/octet-stream":
	default:
		return clean
	}

	if clean == mimePDF || clean == mimeDOCX || clean == mimeText {
		return clean
	}

	if isZip(data) {
		return mimeDOCX
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return mimePDF
	case ".docx":
		return mimeDOCX
	case ".txt", ".md":
		return mimeText
	}
	if clean == "" {
		return mimeText
	}
	return clean
}

func isZip(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K'
}
