// Package invoice renders order invoices and archives the rendered documents.
package invoice

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"storefront/internal/models"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"
)

// ContentType is the media type of rendered invoices
const ContentType = "application/pdf"

const separator = "-------------------------------------------"

// Build derives the invoice of an order from its snapshot lines.
// Current catalog prices are never consulted.
func Build(order *models.Order) *models.Invoice {
	inv := &models.Invoice{
		OrderID:  order.ID,
		IssuedAt: order.CreatedAt,
		Lines:    make([]models.InvoiceLine, 0, len(order.Lines)),
	}
	for _, line := range order.Lines {
		inv.Lines = append(inv.Lines, models.InvoiceLine{
			Title:     line.Product.Title,
			Quantity:  line.Quantity,
			UnitPrice: line.Product.Price,
		})
		inv.Total += int64(line.Quantity) * line.Product.Price
	}
	return inv
}

// FormatAmount renders minor units as a dollar amount, e.g. 1250 -> "$12.50"
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s$%d.%02d", sign, minor/100, minor%100)
}

// LineText is the rendered text of one invoice line
func LineText(line models.InvoiceLine) string {
	return fmt.Sprintf("%s - %d x %s", line.Title, line.Quantity, FormatAmount(line.UnitPrice))
}

// TotalText is the rendered total line
func TotalText(total int64) string {
	return "Total price: " + FormatAmount(total)
}

// Render writes the invoice as a PDF document to w.
// The document uses the core Helvetica font, which covers cp1252 only; other characters in
// product titles are printed as '?'.
func Render(inv *models.Invoice, w io.Writer) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetCreationDate(inv.IssuedAt)
	pdf.SetModificationDate(inv.IssuedAt)
	pdf.SetTitle(inv.FileName(), true)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "U", 26)
	pdf.CellFormat(0, 12, "Invoice", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 14)
	pdf.CellFormat(0, 8, separator, "", 1, "L", false, 0, "")
	for _, line := range inv.Lines {
		pdf.CellFormat(0, 8, tr(cp1252Text(LineText(line))), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)
	pdf.CellFormat(0, 8, TotalText(inv.Total), "", 1, "L", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render invoice %d: %w", inv.OrderID, err)
	}
	return nil
}

// cp1252Text replaces runes outside cp1252 with '?' so they stay visible instead of vanishing
func cp1252Text(s string) string {
	return strings.Map(func(r rune) rune {
		if _, ok := charmap.Windows1252.EncodeRune(r); ok {
			return r
		}
		return '?'
	}, s)
}

// RenderBytes renders the invoice into memory
func RenderBytes(inv *models.Invoice) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(inv, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
