package convert

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// ErrUnsupportedSource is returned for extensions that have no PDF rendering.
var ErrUnsupportedSource = errors.New("conversion not supported for this file type")

// ErrSourceTooLarge is returned when the source exceeds the converter limit.
var ErrSourceTooLarge = errors.New("source too large to convert")

type sourceKind int

const (
	sourceText sourceKind = iota + 1
	sourceTable
	sourceImage
)

var sources = map[string]sourceKind{
	".txt":  sourceText,
	".md":   sourceText,
	".log":  sourceText,
	".csv":  sourceTable,
	".png":  sourceImage,
	".jpg":  sourceImage,
	".jpeg": sourceImage,
	".gif":  sourceImage,
}

// Converter renders stored documents as PDF with gofpdf. Office formats are not handled.
type Converter struct {
	maxSource int64
}

// NewConverter builds a converter that refuses sources larger than maxSource bytes.
func NewConverter(maxSource int64) *Converter {
	if maxSource <= 0 {
		maxSource = 10 << 20
	}
	return &Converter{maxSource: maxSource}
}

// Supports reports whether ext can be converted to PDF.
func (c *Converter) Supports(ext string) bool {
	_, ok := sources[strings.ToLower(ext)]
	return ok
}

// ToPDF renders the content of r, which has extension ext, as a PDF document.
func (c *Converter) ToPDF(ext, title string, r io.Reader) ([]byte, error) {
	kind, ok := sources[strings.ToLower(ext)]
	if !ok {
		return nil, ErrUnsupportedSource
	}
	raw, err := io.ReadAll(io.LimitReader(r, c.maxSource+1))
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if int64(len(raw)) > c.maxSource {
		return nil, ErrSourceTooLarge
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	switch kind {
	case sourceText:
		writeText(pdf, raw)
	case sourceTable:
		if err := writeTable(pdf, raw); err != nil {
			return nil, err
		}
	case sourceImage:
		writeImage(pdf, strings.ToLower(ext), raw)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writeText(pdf *gofpdf.Fpdf, raw []byte) {
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Courier", "", 10)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.ReplaceAll(scanner.Text(), "\t", "    ")
		pdf.MultiCell(0, 5, tr(line), "", "L", false)
	}
}

func writeTable(pdf *gofpdf.Fpdf, raw []byte) error {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	headers := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	colWidth := 180.0 / float64(len(headers))
	pdf.SetFont("Arial", "B", 9)
	for _, h := range headers {
		pdf.CellFormat(colWidth, 7, tr(truncate(h, maxCellRunes)), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, row := range rows {
		for _, h := range headers {
			pdf.CellFormat(colWidth, 6, tr(truncate(row[h], maxCellRunes)), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}
	return nil
}

func writeImage(pdf *gofpdf.Fpdf, ext string, raw []byte) {
	imageType := strings.ToUpper(strings.TrimPrefix(ext, "."))
	if imageType == "JPEG" {
		imageType = "JPG"
	}
	opts := gofpdf.ImageOptions{ImageType: imageType, ReadDpi: true}
	info := pdf.RegisterImageOptionsReader("source", opts, bytes.NewReader(raw))
	if pdf.Err() || info == nil {
		return
	}
	w, h := info.Width(), info.Height()
	const maxW, maxH = 180.0, 267.0
	scale := 1.0
	if w > maxW {
		scale = maxW / w
	}
	if h*scale > maxH {
		scale = maxH / h
	}
	pdf.ImageOptions("source", 15, 15, w*scale, h*scale, false, opts, 0, "")
}
