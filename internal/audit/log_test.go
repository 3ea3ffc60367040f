package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceflow/internal/models"
)

func TestMemoryLogAppendAssignsIncreasingSeq(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		seq, err := log.Append(ctx, nil, &models.AuditEntry{
			InvoiceID: "inv-1",
			Kind:      models.AuditApplied,
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
		assert.Greater(t, seq, last)
		last = seq
	}
}

func TestMemoryLogRejectsInvalidKind(t *testing.T) {
	log := NewMemoryLog()

	_, err := log.Append(context.Background(), nil, &models.AuditEntry{
		InvoiceID: "inv-1",
		Kind:      models.AuditKind("bogus"),
	})
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestMemoryLogQueryFilters(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	entries := []models.AuditEntry{
		{InvoiceID: "inv-1", Kind: models.AuditApplied, Timestamp: time.Now()},
		{InvoiceID: "inv-2", Kind: models.AuditBlocked, Timestamp: time.Now()},
		{InvoiceID: "inv-1", Kind: models.AuditBlocked, Timestamp: time.Now()},
		{InvoiceID: "inv-1", Kind: models.AuditAttempted, Timestamp: time.Now()},
	}
	for i := range entries {
		_, err := log.Append(ctx, nil, &entries[i])
		require.NoError(t, err)
	}

	byInvoice, err := log.Query(ctx, Filter{InvoiceID: "inv-1"})
	require.NoError(t, err)
	assert.Len(t, byInvoice, 3)

	blocked, err := log.Query(ctx, Filter{InvoiceID: "inv-1", Kinds: []models.AuditKind{models.AuditBlocked}})
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, models.AuditBlocked, blocked[0].Kind)

	limited, err := log.Query(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMemoryLogQueryReturnsSequenceOrder(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := log.Append(ctx, nil, &models.AuditEntry{
			InvoiceID: "inv-1",
			Kind:      models.AuditApplied,
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	got, err := log.Query(ctx, Filter{InvoiceID: "inv-1"})
	require.NoError(t, err)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
}

func TestMemoryLogEntriesAreCopies(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	entry := models.AuditEntry{InvoiceID: "inv-1", Kind: models.AuditApplied, Timestamp: time.Now()}
	_, err := log.Append(ctx, nil, &entry)
	require.NoError(t, err)

	entry.Detail = "mutated after append"

	got, err := log.Query(ctx, Filter{InvoiceID: "inv-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Detail)
}
