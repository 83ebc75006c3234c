package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
)

const (
	sheetName  = "Requests"
	dateLayout = "2006-01-02 15:04"
)

var headers = []string{
	"Request ID", "Requester", "Asset", "Workshop", "Cost Center", "Service Types",
	"Description", "Odometer", "State", "Status",
	"Verified By", "Verification", "Recommended By", "Recommendation", "Approved By", "Approval",
	"Billing Ref", "Billing Pending", "Created At", "Updated At",
}

// XLSXExporter writes resolved request views as a spreadsheet
type XLSXExporter struct{}

// NewXLSXExporter creates an XLSXExporter
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// ContentType implements port.ViewExporter
func (e *XLSXExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Export implements port.ViewExporter
func (e *XLSXExporter) Export(w io.Writer, views []*port.ResolvedView) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	last, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetCellStyle(sheetName, "A1", last+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, v := range views {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := viewRow(v)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row for request %d: %w", v.Request.ID, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func viewRow(v *port.ResolvedView) []interface{} {
	r := v.Request

	labels := make([]string, 0, len(v.ServiceTypes))
	for _, st := range v.ServiceTypes {
		if st.Label != nil {
			labels = append(labels, *st.Label)
		} else {
			labels = append(labels, fmt.Sprintf("#%d", st.ID))
		}
	}

	var billing interface{} = ""
	if r.BillingRef != nil {
		billing = *r.BillingRef
	}

	return []interface{}{
		r.ID,
		orID(v.RequesterName, r.RequesterID),
		deref(v.AssetRegisterNumber),
		deref(v.WorkshopName),
		deref(v.CostCenterName),
		strings.Join(labels, ", "),
		r.Description,
		r.Odometer,
		v.State,
		r.Status,
		stageActor(v.VerifierName, r.Verification),
		stageDecision(r.Verification),
		stageActor(v.RecommenderName, r.Recommendation),
		stageDecision(r.Recommendation),
		stageActor(v.ApproverName, r.Approval),
		stageDecision(r.Approval),
		billing,
		v.BillingPending,
		r.CreatedAt.Format(dateLayout),
		r.UpdatedAt.Format(dateLayout),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orID(name *string, id string) string {
	if name != nil {
		return *name
	}
	return id
}

func stageActor(name *string, d *entity.StageDecision) string {
	if d == nil {
		return ""
	}
	return orID(name, d.ActorID)
}

func stageDecision(d *entity.StageDecision) string {
	if d == nil {
		return ""
	}
	return d.Decision
}
