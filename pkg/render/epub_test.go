package render

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/simp-lee/epub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/bookfetch/pkg/config"
	"github.com/Sriram-PR/bookfetch/pkg/utils"
	"github.com/Sriram-PR/bookfetch/pkg/validate"
)

const testContainerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// writeTestEPUB builds an EPUB with one XHTML file per chapter body and returns its path
func writeTestEPUB(t *testing.T, title, author string, chapters []string) string {
	t.Helper()

	var manifest, spine strings.Builder
	files := map[string]string{}
	for i, body := range chapters {
		id := fmt.Sprintf("ch%d", i+1)
		href := id + ".xhtml"
		fmt.Fprintf(&manifest, `<item id="%s" href="%s" media-type="application/xhtml+xml"/>`, id, href)
		fmt.Fprintf(&spine, `<itemref idref="%s"/>`, id)
		files["OEBPS/"+href] = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>` + id + `</title></head><body>` + body + `</body></html>`
	}
	files["OEBPS/content.opf"] = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>` + title + `</dc:title>
    <dc:creator>` + author + `</dc:creator>
    <dc:language>en</dc:language>
    <dc:identifier id="uid">test-book</dc:identifier>
  </metadata>
  <manifest>` + manifest.String() + `</manifest>
  <spine>` + spine.String() + `</spine>
</package>`
	files["META-INF/container.xml"] = testContainerXML

	path := filepath.Join(t.TempDir(), "book.epub")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)

	w, err := zw.Create("mimetype")
	require.NoError(t, err)
	_, err = io.WriteString(w, "application/epub+zip")
	require.NoError(t, err)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func longParagraphs(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<p>Paragraph %d. It was a truth universally acknowledged that a converted chapter needs some text.</p>", i+1)
	}
	return b.String()
}

func TestEPUBConverter_Convert(t *testing.T) {
	src := writeTestEPUB(t, "Pride and Prejudice", "Jane Austen", []string{
		"<h1>Chapter 1</h1>" + longParagraphs(5),
		"<h1>Chapter 2</h1>" + longParagraphs(5),
	})
	dest := filepath.Join(t.TempDir(), "out.pdf")

	conv := NewEPUBConverter(0, testLogger())
	require.NoError(t, conv.Convert(src, dest, "ignored", "ignored"))

	report, err := validate.NewValidator(100, testLogger()).Inspect(dest)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pages, "one page per chapter")
}

func TestEPUBConverter_MaxChapters(t *testing.T) {
	src := writeTestEPUB(t, "Book", "Author", []string{
		longParagraphs(3), longParagraphs(3), longParagraphs(3),
	})
	dest := filepath.Join(t.TempDir(), "out.pdf")

	require.NoError(t, NewEPUBConverter(1, testLogger()).Convert(src, dest, "", ""))

	report, err := validate.NewValidator(100, testLogger()).Inspect(dest)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pages)
}

func TestEPUBConverter_SkipsEmptyChapters(t *testing.T) {
	src := writeTestEPUB(t, "Book", "Author", []string{
		"", "   ", `<div><img src="cover.jpg" alt="Cover"/></div>`, longParagraphs(2),
	})
	dest := filepath.Join(t.TempDir(), "out.pdf")

	require.NoError(t, NewEPUBConverter(0, testLogger()).Convert(src, dest, "", ""))

	report, err := validate.NewValidator(100, testLogger()).Inspect(dest)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pages)
}

func TestEPUBConverter_NoReadableChapters(t *testing.T) {
	src := writeTestEPUB(t, "Book", "Author", []string{"", "<div> </div>"})
	dest := filepath.Join(t.TempDir(), "out.pdf")

	err := NewEPUBConverter(0, testLogger()).Convert(src, dest, "", "")
	assert.ErrorIs(t, err, utils.ErrParsing)
	assert.NoFileExists(t, dest)
}

func TestChapterText_ExcludesHead(t *testing.T) {
	src := writeTestEPUB(t, "Book", "Author", []string{
		"<h1>Opening</h1><p>First   line.</p><p>Second<br/>line.</p>",
		"",
	})
	book, err := epub.Open(src)
	require.NoError(t, err)
	defer book.Close()

	chapters := book.ContentChapters()
	require.Len(t, chapters, 2)

	text, err := chapterText(chapters[0])
	require.NoError(t, err)
	assert.Equal(t, "Opening\nFirst line.\nSecond\nline.", text)
	assert.NotContains(t, text, "ch1")

	text, err = chapterText(chapters[1])
	require.NoError(t, err)
	assert.Empty(t, text, "title alone is not chapter text")
}

func TestEPUBConverter_NotAnEPUB(t *testing.T) {
	src := filepath.Join(t.TempDir(), "fake.epub")
	require.NoError(t, os.WriteFile(src, []byte("<html>this is an error page</html>"), 0644))
	dest := filepath.Join(t.TempDir(), "out.pdf")

	err := NewEPUBConverter(0, testLogger()).Convert(src, dest, "", "")
	assert.ErrorIs(t, err, utils.ErrParsing)
	assert.NoFileExists(t, dest)
}

func TestWriteFallbackDocument(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "assets", "fallback.pdf")
	require.NoError(t, WriteFallbackDocument(dest))

	v := validate.NewValidator(config.DefaultMinDocumentBytes, testLogger())
	assert.True(t, v.Validate(dest))
	assert.FileExists(t, dest)
}
