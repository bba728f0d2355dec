package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/simp-lee/epub"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/bookfetch/pkg/compose"
	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

// EPUBConverter turns an EPUB into a text PDF, one chapter per section
type EPUBConverter struct {
	maxChapters int // 0 = all
	log         *logrus.Entry
}

// NewEPUBConverter creates an EPUBConverter
func NewEPUBConverter(maxChapters int, log *logrus.Entry) *EPUBConverter {
	return &EPUBConverter{maxChapters: maxChapters, log: log}
}

// Convert reads srcPath and writes destPath. title and author are used when
// the EPUB metadata lacks them. License pages and empty chapters are skipped.
func (c *EPUBConverter) Convert(srcPath, destPath, title, author string) error {
	book, err := epub.Open(srcPath)
	if err != nil {
		if errors.Is(err, epub.ErrDRMProtected) {
			return fmt.Errorf("%w: EPUB is DRM protected: %w", utils.ErrInvalidDocument, err)
		}
		return fmt.Errorf("%w: open EPUB '%s': %w", utils.ErrParsing, srcPath, err)
	}
	defer book.Close()

	md := book.Metadata()
	if len(md.Titles) > 0 && strings.TrimSpace(md.Titles[0]) != "" {
		title = md.Titles[0]
	}
	if len(md.Authors) > 0 && strings.TrimSpace(md.Authors[0].Name) != "" {
		author = md.Authors[0].Name
	}

	var sections []compose.Section
	for _, ch := range book.ContentChapters() {
		if c.maxChapters > 0 && len(sections) >= c.maxChapters {
			c.log.WithField("max_chapters", c.maxChapters).Info("EPUB truncated at chapter limit")
			break
		}
		text, err := chapterText(ch)
		if err != nil {
			c.log.WithField("chapter", ch.Href).Debugf("Skipping unreadable chapter: %v", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		sections = append(sections, compose.Section{Heading: ch.Title, Body: text})
	}
	if len(sections) == 0 {
		return fmt.Errorf("%w: EPUB '%s' has no readable chapters", utils.ErrParsing, srcPath)
	}

	c.log.WithFields(logrus.Fields{"chapters": len(sections), "title": title}).Debug("Converting EPUB")
	return compose.WriteText(destPath, sections, compose.Options{Title: title, Author: author, Compress: true})
}

const blockSelector = "p, div, br, li, tr, pre, blockquote, section, article, h1, h2, h3, h4, h5, h6"

// chapterText returns the readable text of a chapter body, one line per
// block element. The document head is not part of it.
func chapterText(ch epub.Chapter) (string, error) {
	body, err := ch.BodyHTML()
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", err
	}
	doc.Find("img, svg, script, style").Remove()
	doc.Find(blockSelector).AfterHtml("\n")

	var lines []string
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
