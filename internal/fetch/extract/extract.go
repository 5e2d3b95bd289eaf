// Package extract turns fetched document bytes into plain text.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os/exec"
	"path"
	"regexp"
	"strings"
)

// ErrPDFToolNotFound reports that PDF extraction needs the pdftotext binary
// (poppler-utils) and it is not in PATH.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH, install poppler-utils")

// Text extracts plain text from raw document bytes. The format is chosen by
// MIME type first, URL extension second. Unsupported formats return an error;
// the fetcher surfaces it as a FetchError.
func Text(contentType, url string, data []byte) (string, error) {
	mediaType := contentType
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = mt
	}
	switch {
	case mediaType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document" || hasExt(url, ".docx"):
		return docxText(data)
	case mediaType == "application/pdf" || hasExt(url, ".pdf"):
		return pdfText(data)
	case mediaType == "message/rfc822" || hasExt(url, ".eml"):
		return emlText(data)
	case mediaType == "text/html" || hasExt(url, ".html") || hasExt(url, ".htm"):
		return htmlText(data), nil
	case strings.HasPrefix(mediaType, "text/") || hasExt(url, ".txt") || hasExt(url, ".md"):
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}
}

func hasExt(url, ext string) bool {
	clean := url
	if i := strings.IndexByte(clean, '?'); i >= 0 {
		clean = clean[:i]
	}
	return strings.EqualFold(path.Ext(clean), ext)
}

// docxText reads word/document.xml out of the zip container and joins
// paragraph runs.
func docxText(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx container: %w", err)
	}
	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", err
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		return parseDocumentXML(content), nil
	}
	return "", fmt.Errorf("docx has no word/document.xml")
}

type documentXML struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text []struct {
					Content string `xml:",chardata"`
				} `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

func parseDocumentXML(content []byte) string {
	var doc documentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return ""
	}
	var b strings.Builder
	for i, para := range doc.Body.Paragraphs {
		if i > 0 {
			b.WriteString("\n")
		}
		for _, run := range para.Runs {
			for _, text := range run.Text {
				b.WriteString(text.Content)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// runPDFTool is swapped in tests; the default pipes the bytes through
// pdftotext.
var runPDFTool = func(data []byte) ([]byte, error) {
	cmd := exec.Command("pdftotext", "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%v: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

// pdfText shells out to pdftotext. A missing tool is a distinct error so the
// operator learns what to install instead of getting a generic failure.
func pdfText(data []byte) (string, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return "", ErrPDFToolNotFound
	}
	out, err := runPDFTool(data)
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// emlText parses an RFC 822 message and collects its text parts.
func emlText(data []byte) (string, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse eml: %w", err)
	}
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}
	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(msg.Body, params["boundary"])
		var parts []string
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", fmt.Errorf("read eml part: %w", err)
			}
			partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			if partType != "text/plain" && partType != "text/html" {
				continue
			}
			body, err := io.ReadAll(decoded(part, part.Header.Get("Content-Transfer-Encoding")))
			if err != nil {
				continue
			}
			if partType == "text/html" {
				parts = append(parts, htmlText(body))
			} else {
				parts = append(parts, string(body))
			}
		}
		return strings.Join(parts, "\n"), nil
	}
	body, err := io.ReadAll(decoded(msg.Body, msg.Header.Get("Content-Transfer-Encoding")))
	if err != nil {
		return "", err
	}
	if mediaType == "text/html" {
		return htmlText(body), nil
	}
	return string(body), nil
}

func decoded(r io.Reader, encoding string) io.Reader {
	if strings.EqualFold(strings.TrimSpace(encoding), "quoted-printable") {
		return quotedprintable.NewReader(r)
	}
	return r
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	blockRe  = regexp.MustCompile(`(?i)<(/p|br[^>]*|/div|/h[1-6]|/li|/tr)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// htmlText strips markup, keeping block boundaries as newlines.
func htmlText(data []byte) string {
	text := scriptRe.ReplaceAllString(string(data), "")
	text = blockRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, " ")
	text = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'").Replace(text)
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.Join(strings.Fields(lines[i]), " ")
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankRe.ReplaceAllString(text, "\n\n"))
}
