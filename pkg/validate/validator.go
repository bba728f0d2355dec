// Package validate decides whether a file on disk is a usable PDF document.
package validate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

const headerWindow = 1024 // PDF readers accept the header anywhere in the first 1 KiB

var disableConfigDir sync.Once

// Report describes a structurally valid document
type Report struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Pages     int    `json:"pages"`
	Parser    string `json:"parser"` // Parser that accepted the file
}

// Validator checks documents with pdfcpu first and a lenient second parser after
type Validator struct {
	minBytes int64
	log      *logrus.Entry
}

// NewValidator creates a Validator. Files of minBytes or fewer are never valid.
func NewValidator(minBytes int64, log *logrus.Entry) *Validator {
	disableConfigDir.Do(api.DisableConfigDir)
	return &Validator{minBytes: minBytes, log: log}
}

// Validate reports whether path holds a usable document: larger than the size
// threshold, structurally parseable and with at least one page.
// An invalid file is deleted before returning false.
func (v *Validator) Validate(path string) bool {
	report, err := v.Inspect(path)
	if err == nil {
		v.log.WithFields(logrus.Fields{"path": path, "pages": report.Pages, "parser": report.Parser}).Debug("Document valid")
		return true
	}

	v.log.WithFields(logrus.Fields{
		"path":           path,
		"error_category": utils.CategorizeError(err),
	}).Infof("Document rejected: %v", err)

	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		v.log.WithField("path", path).Warnf("Failed to remove rejected document: %v", rmErr)
	}
	return false
}

// Inspect examines path without modifying it
func (v *Validator) Inspect(path string) (Report, error) {
	report := Report{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		return report, fmt.Errorf("%w: stat '%s': %w", utils.ErrFilesystem, path, err)
	}
	if !info.Mode().IsRegular() {
		return report, fmt.Errorf("%w: '%s' is not a regular file", utils.ErrInvalidDocument, path)
	}
	report.SizeBytes = info.Size()
	if report.SizeBytes <= v.minBytes {
		return report, fmt.Errorf("%w: %d bytes is at or below the %d byte threshold",
			utils.ErrInvalidDocument, report.SizeBytes, v.minBytes)
	}

	f, err := os.Open(path)
	if err != nil {
		return report, fmt.Errorf("%w: open '%s': %w", utils.ErrFilesystem, path, err)
	}
	defer f.Close()

	if err := checkHeader(f); err != nil {
		return report, err
	}

	pages, primaryErr := pagesWithPdfcpu(f)
	report.Parser = "pdfcpu"
	if primaryErr != nil {
		v.log.WithField("path", path).Debugf("pdfcpu rejected document, trying lenient parser: %v", primaryErr)
		var lenientErr error
		pages, lenientErr = pagesWithLenientParser(f, report.SizeBytes)
		report.Parser = "ledongthuc/pdf"
		if lenientErr != nil {
			return report, fmt.Errorf("%w: %w: pdfcpu: %v; lenient: %v",
				utils.ErrInvalidDocument, utils.ErrParsing, primaryErr, lenientErr)
		}
	}

	report.Pages = pages
	if pages < 1 {
		return report, fmt.Errorf("%w: document has no pages", utils.ErrInvalidDocument)
	}
	return report, nil
}

func checkHeader(f *os.File) error {
	buf := make([]byte, headerWindow)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: read header: %w", utils.ErrFilesystem, err)
	}
	if !bytes.Contains(buf[:n], []byte("%PDF-")) {
		return fmt.Errorf("%w: missing PDF header", utils.ErrInvalidDocument)
	}
	return nil
}

// pagesWithPdfcpu runs pdfcpu's relaxed validation. pdfcpu can panic on hostile input.
func pagesWithPdfcpu(f *os.File) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu panic: %v", r)
		}
	}()

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return 0, err
	}
	return ctx.PageCount, nil
}

// pagesWithLenientParser gives damaged-but-readable files a second chance
func pagesWithLenientParser(f *os.File, size int64) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lenient parser panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(f, size)
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}
