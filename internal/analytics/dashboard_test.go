package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Infix8/qrflow-backend/internal/models"
)

func TestBuildDashboard(t *testing.T) {
	failed := "smtp timeout"
	list := []models.Attendee{
		{Branch: "CSE", Year: 3, Section: "B", Admitted: true, TokenIssued: true, Delivered: true},
		{Branch: "CSE", Year: 3, Section: "A", TokenIssued: true, DeliveryError: &failed},
		{Branch: "CSE", Year: 2, Section: "A", Admitted: true, TokenIssued: true, Delivered: true},
		{Branch: "ECE", Year: 1, Section: "A"},
	}
	pays := []models.Payment{
		{Status: models.PaymentStatusCaptured, Amount: 50000},
		{Status: models.PaymentStatusCaptured, Amount: 25000},
		{Status: models.PaymentStatusFailed, Amount: 50000},
	}

	d := BuildDashboard(&models.Event{ID: 7, Name: "Fest"}, list, pays)

	assert.Equal(t, Totals{
		Attendees:        4,
		Admitted:         2,
		Pending:          2,
		AdmittedPercent:  50,
		TokensIssued:     3,
		Delivered:        2,
		DeliveryFailures: 1,
		CapturedPayments: 2,
		RevenueMinor:     75000,
	}, d.Totals)

	require.Len(t, d.Branches, 2)
	cse := d.Branches[0]
	assert.Equal(t, "CSE", cse.Branch)
	assert.Equal(t, Counts{Total: 3, Admitted: 2}, cse.Counts)
	require.Len(t, cse.Years, 2)
	assert.Equal(t, 2, cse.Years[0].Year)
	assert.Equal(t, 3, cse.Years[1].Year)
	require.Len(t, cse.Years[1].Sections, 2)
	assert.Equal(t, "A", cse.Years[1].Sections[0].Section)
	assert.Equal(t, Counts{Total: 1, Admitted: 0}, cse.Years[1].Sections[0].Counts)
	assert.Equal(t, Counts{Total: 1, Admitted: 1}, cse.Years[1].Sections[1].Counts)

	assert.Equal(t, "ECE", d.Branches[1].Branch)
}

func TestBuildDashboardEmpty(t *testing.T) {
	d := BuildDashboard(&models.Event{ID: 1}, nil, nil)
	assert.Zero(t, d.Totals.AdmittedPercent)
	assert.NotNil(t, d.Branches)
	assert.Empty(t, d.Branches)
}
