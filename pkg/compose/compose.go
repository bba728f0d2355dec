// Package compose writes PDF documents with gofpdf: text documents (EPUB
// conversion, placeholder) and image-per-page documents (rendered pages).
// Files are written to a temp file next to the destination and renamed into place.
package compose

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/text/encoding/charmap"

	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

// maxUnencodableRatio is the share of visible characters outside cp1252 a
// text document may carry. The core fonts print those as '.'.
const maxUnencodableRatio = 0.01

// A4 page geometry in millimetres
const (
	PageWidthMM  = 210.0
	PageHeightMM = 297.0
	marginMM     = 18.0
)

// Section is a titled block of plain text
type Section struct {
	Heading string
	Body    string
}

// Options control document metadata and encoding
type Options struct {
	Title    string
	Author   string
	Compress bool // Deflate page streams
}

// WriteText writes a text document: a title page header followed by every section.
// Each section starts on a new page. Text set in the built-in fonts is limited to
// cp1252; documents where more than 1% of the characters fall outside it are refused.
func WriteText(path string, sections []Section, opts Options) error {
	if len(sections) == 0 {
		return fmt.Errorf("%w: no sections to write", utils.ErrInvalidDocument)
	}
	if err := checkEncodable(sections, opts); err != nil {
		return err
	}

	pdf := newDocument(opts)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetAutoPageBreak(true, marginMM)

	for i, s := range sections {
		pdf.AddPage()
		if i == 0 && opts.Title != "" {
			pdf.SetFont("Helvetica", "B", 20)
			pdf.MultiCell(0, 10, tr(opts.Title), "", "L", false)
			if opts.Author != "" {
				pdf.SetFont("Helvetica", "I", 12)
				pdf.MultiCell(0, 7, tr(opts.Author), "", "L", false)
			}
			pdf.Ln(8)
		}
		if s.Heading != "" {
			pdf.SetFont("Helvetica", "B", 15)
			pdf.MultiCell(0, 8, tr(s.Heading), "", "L", false)
			pdf.Ln(3)
		}
		pdf.SetFont("Times", "", 11)
		for _, para := range splitParagraphs(s.Body) {
			pdf.MultiCell(0, 5.5, tr(para), "", "J", false)
			pdf.Ln(2.5)
		}
	}

	return writeAtomically(path, pdf)
}

// WriteImagePages writes one PNG image per A4 page, scaled to the page width.
func WriteImagePages(path string, pngPages [][]byte, opts Options) error {
	if len(pngPages) == 0 {
		return fmt.Errorf("%w: no page images to write", utils.ErrInvalidDocument)
	}

	pdf := newDocument(opts)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)

	imgOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	for i, data := range pngPages {
		name := fmt.Sprintf("page-%04d", i+1)
		pdf.RegisterImageOptionsReader(name, imgOpts, bytes.NewReader(data))
		pdf.AddPage()
		// Height 0 keeps the aspect ratio
		pdf.ImageOptions(name, 0, 0, PageWidthMM, 0, false, imgOpts, 0, "")
	}

	return writeAtomically(path, pdf)
}

func newDocument(opts Options) *gofpdf.Fpdf {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginMM, marginMM, marginMM)
	pdf.SetCompression(opts.Compress)
	if opts.Title != "" {
		pdf.SetTitle(opts.Title, true)
	}
	if opts.Author != "" {
		pdf.SetAuthor(opts.Author, true)
	}
	pdf.SetCreator("bookfetch", true)
	return pdf
}

// writeAtomically renders pdf into a temp file beside path, then renames it over path.
func writeAtomically(path string, pdf *gofpdf.Fpdf) error {
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("%w: compose: %w", utils.ErrInvalidDocument, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create directory '%s': %w", utils.ErrFilesystem, dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", utils.ErrFilesystem, err)
	}
	tmpPath := tmp.Name()

	if err := output(pdf, tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: sync '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: remove existing '%s': %w", utils.ErrFilesystem, path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	return nil
}

func output(pdf *gofpdf.Fpdf, w io.Writer) error {
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("%w: compose: %w", utils.ErrInvalidDocument, err)
	}
	return nil
}

// checkEncodable rejects text the cp1252 core fonts cannot show
func checkEncodable(sections []Section, opts Options) error {
	var visible, missing int
	var first rune
	count := func(text string) {
		for _, r := range text {
			if unicode.IsSpace(r) || unicode.Is(unicode.Cf, r) {
				continue
			}
			visible++
			if _, ok := charmap.Windows1252.EncodeRune(r); !ok {
				if missing == 0 {
					first = r
				}
				missing++
			}
		}
	}
	count(opts.Title)
	count(opts.Author)
	for _, s := range sections {
		count(s.Heading)
		count(s.Body)
	}

	if visible > 0 && float64(missing)/float64(visible) > maxUnencodableRatio {
		return fmt.Errorf("%w: %d of %d characters (first %q) cannot be set in cp1252",
			utils.ErrInvalidDocument, missing, visible, first)
	}
	return nil
}

// splitParagraphs treats every non-blank line as a paragraph and collapses inner whitespace
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var paras []string
	for _, line := range strings.Split(text, "\n") {
		p := strings.Join(strings.Fields(line), " ")
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}
