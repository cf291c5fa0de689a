// Package pdfsvc renders feedback reports as PDF documents.
package pdfsvc

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/pkg/errors"

	"github.com/peereval/backend/core/survey"
)

const (
	pageMargin = 15.0
	lineHeight = 6.0
	font       = "Helvetica"
)

// Renderer writes survey reports as A4 PDF documents.
type Renderer struct {
	appName string
}

func NewRenderer(appName string) *Renderer {
	return &Renderer{appName: appName}
}

// Render writes rep to w.
func (r *Renderer) Render(rep survey.Report, w io.Writer) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetTitle(rep.SurveyTitle, true)
	pdf.SetCreator(r.appName, true)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("") // cp1252

	pdf.SetFooterFunc(func() {
		pdf.SetY(-pageMargin)
		pdf.SetFont(font, "I", 8)
		pdf.SetTextColor(128, 128, 128)
		footer := fmt.Sprintf("This report was generated automatically by the %s system. Page %d/{nb}", r.appName, pdf.PageNo())
		pdf.CellFormat(0, lineHeight, tr(footer), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	// header
	pdf.SetFont(font, "B", 18)
	pdf.MultiCell(0, 9, tr("Feedback report"), "", "L", false)
	pdf.SetFont(font, "", 11)
	pdf.SetTextColor(80, 80, 80)
	header := []string{
		"Project: " + rep.ProjectTitle,
		"Survey: " + rep.SurveyTitle,
		"Student: " + rep.StudentName,
		"Deadline: " + rep.Deadline.Format("January 2, 2006 15:04 MST"),
		"Generated: " + rep.GeneratedAt.Format("January 2, 2006 15:04 MST"),
	}
	for _, line := range header {
		pdf.MultiCell(0, lineHeight, tr(line), "", "L", false)
	}
	if rep.SurveyDescription != "" {
		pdf.Ln(2)
		pdf.SetFont(font, "I", 10)
		pdf.MultiCell(0, lineHeight, tr(rep.SurveyDescription), "", "L", false)
	}
	pdf.Ln(4)

	pdf.SetFont(font, "B", 12)
	pdf.SetTextColor(0, 0, 0)
	pdf.MultiCell(0, 7, tr("Summary"), "", "L", false)
	pdf.SetFont(font, "", 10)
	summary := []string{
		fmt.Sprintf("Total responses received: %d", rep.TotalResponses),
		fmt.Sprintf("Total criteria: %d", len(rep.Criteria)),
		"All feedback below is anonymous; peers are identified as Peer 1, Peer 2, ...",
	}
	for _, line := range summary {
		pdf.MultiCell(0, lineHeight, tr(line), "", "L", false)
	}
	pdf.Ln(4)

	if len(rep.Criteria) == 0 {
		pdf.SetFont(font, "", 11)
		pdf.SetTextColor(0, 0, 0)
		pdf.MultiCell(0, lineHeight, tr("No feedback was received."), "", "L", false)
	}
	for _, c := range rep.Criteria {
		r.renderCriterion(pdf, tr, c)
	}

	if err := pdf.Output(w); err != nil {
		return errors.Wrap(err, "writing pdf")
	}
	return nil
}

func (r *Renderer) renderCriterion(pdf *fpdf.Fpdf, tr func(string) string, c survey.ReportCriterion) {
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFillColor(235, 240, 250)
	pdf.SetFont(font, "B", 13)
	pdf.CellFormat(0, 8, tr(c.Label), "", 1, "L", true, 0, "")

	pdf.SetFont(font, "", 10)
	avg := fmt.Sprintf("Average rating: %.2f / %d (%d response(s), scale %d to %d)",
		c.Average, c.MaxRating, len(c.Feedback), c.MinRating, c.MaxRating)
	pdf.MultiCell(0, lineHeight, tr(avg), "", "L", false)
	pdf.Ln(1)

	for _, fb := range c.Feedback {
		pdf.SetFont(font, "B", 10)
		pdf.CellFormat(0, lineHeight, tr("Feedback from "+fb.AnonymousID+":"), "", 1, "L", false, 0, "")
		pdf.SetFont(font, "", 10)
		pdf.SetX(pageMargin + 5)
		pdf.CellFormat(0, lineHeight, tr(fmt.Sprintf("Rating: %d / %d", fb.Rating, c.MaxRating)), "", 1, "L", false, 0, "")
		if text := strings.TrimSpace(fb.Text); text != "" {
			pdf.SetX(pageMargin + 5)
			pdf.MultiCell(0, lineHeight, tr("Comment: "+text), "", "L", false)
		}
		pdf.Ln(1)
	}
	pdf.Ln(3)
}
