package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
)

func strPtr(s string) *string { return &s }

func TestXLSXExporter_Export(t *testing.T) {
	billingRef := int64(900)
	views := []*port.ResolvedView{
		{
			Request: &entity.MaintenanceRequest{
				ID:           1,
				RequesterID:  "R1",
				Description:  "brake pads",
				Odometer:     120000,
				Status:       entity.StatusClosed,
				Verification: &entity.StageDecision{ActorID: "A", Decision: entity.DecisionProceed},
				Approval:     &entity.StageDecision{ActorID: "C", Decision: entity.DecisionProceed},
				BillingRef:   &billingRef,
				CreatedAt:    time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
			},
			State:               "APPROVED",
			RequesterName:       strPtr("Rita Requester"),
			AssetRegisterNumber: strPtr("WXY 1234"),
			VerifierName:        strPtr("Alice"),
			ServiceTypes:        []port.ResolvedServiceType{{ID: 1, Label: strPtr("Brakes")}, {ID: 9}},
		},
		{
			Request:        &entity.MaintenanceRequest{ID: 2, RequesterID: "R2", Status: entity.StatusOpen},
			State:          "NEW",
			BillingPending: false,
		},
	}

	var buf bytes.Buffer
	exporter := NewXLSXExporter()
	require.NoError(t, exporter.Export(&buf, views))
	assert.Contains(t, exporter.ContentType(), "spreadsheetml")

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers[0], rows[0][0])

	first := rows[1]
	assert.Equal(t, "1", first[0])
	assert.Equal(t, "Rita Requester", first[1])
	assert.Equal(t, "WXY 1234", first[2])
	assert.Equal(t, "Brakes, #9", first[5])
	assert.Equal(t, "APPROVED", first[8])
	assert.Equal(t, "Alice", first[10])
	assert.Equal(t, "C", first[14])
	assert.Equal(t, "900", first[16])
	assert.Equal(t, "2026-01-02 03:04", first[18])

	assert.Equal(t, "R2", rows[2][1])
}

func TestXLSXExporter_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewXLSXExporter().Export(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
