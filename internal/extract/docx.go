package extract

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

var (
	paragraphEnd = regexp.MustCompile(`</w:p>|<w:br[^>]*/>|<w:tab[^>]*/>`)
	xmlTag       = regexp.MustCompile(`<[^>]+>`)
	blankLines   = regexp.MustCompile(`\n{3,}`)
)

func docxText(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to read DOCX: %w", err)
	}
	defer r.Close()

	return xmlToText(r.Editable().GetContent()), nil
}

// xmlToText flattens WordprocessingML to text, one line per paragraph.
func xmlToText(content string) string {
	content = paragraphEnd.ReplaceAllStringFunc(content, func(m string) string {
		if strings.HasPrefix(m, "<w:tab") {
			return "\t"
		}
		return "\n"
	})
	content = xmlTag.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	content = blankLines.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
