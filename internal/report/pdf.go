package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

// PDF renders the report document: title, period line, summary bullets and,
// when any incident was recorded, the incident table.
func (r *Report) PDF() ([]byte, error) {
	pdf := fpdf.New("P", "mm", "Letter", "")
	// Core fonts are cp1252; the translator keeps the bullet glyph rendering.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Network Monitoring Report", true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Network Monitoring Report", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, "Report Period: "+r.PeriodString(), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, "Summary:", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for _, line := range r.SummaryLines() {
		pdf.CellFormat(0, 6, tr("• "+line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	if len(r.Aggregate.Incidents) > 0 {
		r.incidentTable(pdf)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Report) incidentTable(pdf *fpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, "Speed Incidents:", "", 1, "L", false, 0, "")

	colW := [3]float64{65, 65, 65}

	pdf.SetFillColor(128, 128, 128)
	pdf.SetTextColor(245, 245, 245)
	pdf.SetFont("Helvetica", "B", 12)
	for i, h := range []string{"Timestamp", "Download Speed", "Upload Speed"} {
		pdf.CellFormat(colW[i], 9, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 11)
	for _, in := range r.Aggregate.Incidents {
		cells := [3]string{
			in.Timestamp.Format(rowLayout),
			breachCell(in.SlowDownload, in.DownloadMbps),
			breachCell(in.SlowUpload, in.UploadMbps),
		}
		for i, c := range cells {
			pdf.CellFormat(colW[i], 7, c, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
	}
}

// breachCell prints the measured value only for the side that breached.
func breachCell(slow bool, v float64) string {
	if !slow {
		return "OK"
	}
	return fmt.Sprintf("%.2f Mbps", v)
}
