package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contexta-ai/contexta-engine/pkg/apperrors"
	"github.com/contexta-ai/contexta-engine/pkg/models"
)

func TestNormalizeStatements_FlatStrings(t *testing.T) {
	got, err := NormalizeStatements([]string{"a", "b"})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, models.AtomicStatement{Order: 1, Type: models.StatementTypeFact, Text: "a"}, got[0])
	assert.Equal(t, models.AtomicStatement{Order: 2, Type: models.StatementTypeFact, Text: "b"}, got[1])
	assert.Nil(t, got[0].Speaker)
}

func TestNormalizeStatements_StructuredFillsMissingOrder(t *testing.T) {
	got, err := NormalizeStatements([]models.AtomicStatement{
		{Type: models.StatementTypeQuote, Speaker: strPtr("mayor"), Text: "we will build it"},
		{Text: "construction starts in March"},
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Order)
	assert.Equal(t, models.StatementTypeQuote, got[0].Type)
	assert.Equal(t, "we will build it", got[0].Text)
	assert.Equal(t, 2, got[1].Order)
	assert.Equal(t, models.StatementTypeFact, got[1].Type)
}

func TestNormalizeStatements_DecodedJSONObjects(t *testing.T) {
	got, err := NormalizeStatements([]any{
		map[string]any{"text": "first", "type": "context"},
		map[string]any{"text": "second", "speaker": "spokesperson"},
		"third",
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, models.StatementTypeContext, got[0].Type)
	require.NotNil(t, got[1].Speaker)
	assert.Equal(t, "spokesperson", *got[1].Speaker)
	assert.Equal(t, models.StatementTypeFact, got[2].Type)
	assert.Equal(t, 3, got[2].Order)
}

func TestNormalizeStatements_MissingTextRejected(t *testing.T) {
	_, err := NormalizeStatements([]any{map[string]any{"type": "fact"}})
	assert.ErrorIs(t, err, apperrors.ErrMissingStatementText)

	_, err = NormalizeStatements([]string{"ok", "  "})
	assert.ErrorIs(t, err, apperrors.ErrMissingStatementText)
}

func TestNormalizeStatements_InvalidShapeRejected(t *testing.T) {
	_, err := NormalizeStatements("not a list")
	assert.ErrorIs(t, err, apperrors.ErrInvalidStatementShape)

	_, err = NormalizeStatements([]any{42})
	assert.ErrorIs(t, err, apperrors.ErrInvalidStatementShape)

	_, err = NormalizeStatements([]any{map[string]any{"text": "x", "type": "opinion"}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidStatementShape)
}

func TestNormalizeStatements_NilIsEmpty(t *testing.T) {
	got, err := NormalizeStatements(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
