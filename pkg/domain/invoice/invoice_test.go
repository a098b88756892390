package invoice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/api/pkg/domain/shared"
)

func TestInvoice_DaysLate(t *testing.T) {
	issued := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	due := issued.AddDate(0, 0, 14)

	inv, err := NewInvoice(shared.NewID(), 120000, "eur", issued, due)
	require.NoError(t, err)
	assert.Equal(t, "EUR", inv.Currency())

	assert.Equal(t, 0, inv.DaysLate(due))
	assert.Equal(t, 5, inv.DaysLate(due.AddDate(0, 0, 5)))

	inv.RefreshStatus(due.AddDate(0, 0, 1))
	assert.Equal(t, StatusOverdue, inv.Status())

	require.NoError(t, inv.MarkPaid(due.AddDate(0, 0, 3)))
	assert.Equal(t, 3, inv.DaysLate(due.AddDate(0, 1, 0)))
	assert.True(t, shared.IsConflict(inv.MarkPaid(time.Now())))
}

func TestNewInvoice_Validation(t *testing.T) {
	now := time.Now()
	_, err := NewInvoice(shared.NewID(), 0, "", now, now)
	assert.True(t, shared.IsValidation(err))

	_, err = NewInvoice(shared.NewID(), 100, "", now, now.Add(-time.Hour))
	assert.True(t, shared.IsValidation(err))
}
