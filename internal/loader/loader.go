// Package loader extracts plain text from uploaded PDF, DOCX and TXT files.
package loader

import (
	"archive/zip"
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"docqa/internal/domain"
)

// Supported formats, keyed by lower-case extension.
const (
	FormatTXT  = "txt"
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
)

var (
	whitespaceRe = regexp.MustCompile(`[ \t\f\v]+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
	pageFooterRe = regexp.MustCompile(`(?i)page\s+\d+\s+of\s+\d+`)
)

// Loader turns raw upload bytes into a Document.
type Loader struct{}

func New() *Loader { return &Loader{} }

// Format returns the normalized extension of filename, or "" when the
// extension is not one of the supported formats.
func Format(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch ext {
	case FormatTXT, FormatPDF, FormatDOCX:
		return ext
	}
	return ""
}

// Extension returns the lower-case extension of filename without the dot.
func Extension(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// Load extracts the text of one upload. It fails with domain.ErrUnsupportedFormat
// for unknown extensions and domain.ErrParse for unreadable or empty content.
func (l *Loader) Load(data []byte, filename string) (domain.Document, error) {
	format := Format(filename)
	var (
		text  string
		pages int
		err   error
	)
	switch format {
	case FormatTXT:
		text, err = loadText(data)
	case FormatPDF:
		text, pages, err = loadPDF(data)
	case FormatDOCX:
		text, err = loadDOCX(data)
	default:
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filename)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: %s: %v", domain.ErrParse, filename, err)
	}
	text = cleanText(text)
	if text == "" {
		return domain.Document{}, fmt.Errorf("%w: %s: no extractable text", domain.ErrParse, filename)
	}
	return domain.Document{
		ID:       documentID(filename, data),
		Filename: filename,
		Format:   format,
		Content:  text,
		Pages:    pages,
	}, nil
}

// LoadAll loads every upload, stopping at the first failure.
func (l *Loader) LoadAll(uploads []domain.Upload) ([]domain.Document, error) {
	docs := make([]domain.Document, 0, len(uploads))
	for _, u := range uploads {
		doc, err := l.Load(u.Data, u.Filename)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func loadText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid UTF-8")
	}
	return string(data), nil
}

func loadPDF(data []byte) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	var sb strings.Builder
	pageCount := reader.NumPage()
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return pageFooterRe.ReplaceAllString(sb.String(), ""), pageCount, nil
}

// loadDOCX reads word/document.xml and emits one line per paragraph.
func loadDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", errors.New("word/document.xml not found")
	}
	rc, err := body.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var sb strings.Builder
	dec := xml.NewDecoder(rc)
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteString("\t")
			case "br", "cr":
				sb.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func documentID(filename string, data []byte) string {
	h := sha1.New()
	h.Write([]byte(filename))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)[:8])
}
