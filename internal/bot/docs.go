package bot

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LoadInstructionDoc reads one exported instruction document and
// flattens it to plain text for inclusion in a system prompt. A
// missing or unreadable document degrades to an empty string so the
// bot still runs on its base instructions.
func LoadInstructionDoc(docsDir, name string) string {
	path := filepath.Join(docsDir, name)
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("instruction document unavailable", "path", path, "error", err)
		return ""
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		slog.Warn("instruction document unreadable", "path", path, "error", err)
		return ""
	}

	var parts []string
	doc.Find("h1, h2, h3, h4, p, li, td").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Filter("p, li").Length() > 0 {
			return
		}
		txt := strings.TrimSpace(s.Text())
		if txt != "" {
			parts = append(parts, txt)
		}
	})
	return strings.Join(parts, "\n")
}
