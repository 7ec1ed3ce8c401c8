package services

import (
	"fmt"
	"strings"

	"github.com/contexta-ai/contexta-engine/pkg/apperrors"
	"github.com/contexta-ai/contexta-engine/pkg/models"
)

// NormalizeStatements coerces the statement shapes submitters and models
// actually send into the canonical ordered form. Accepted shapes:
//
//   - []string / []any of strings: each becomes a fact with no speaker
//   - []models.AtomicStatement: passed through with order renumbered
//   - []map[string]any (decoded JSON objects): fields extracted, type
//     defaulting to fact, missing text is rejected
//
// Order is always rewritten to be 1-based and contiguous in input order.
func NormalizeStatements(raw any) ([]models.AtomicStatement, error) {
	if raw == nil {
		return []models.AtomicStatement{}, nil
	}

	switch v := raw.(type) {
	case []models.AtomicStatement:
		out := make([]models.AtomicStatement, 0, len(v))
		for _, s := range v {
			text := strings.TrimSpace(s.Text)
			if text == "" {
				return nil, fmt.Errorf("statement %d: %w", len(out)+1, apperrors.ErrMissingStatementText)
			}
			s.Text = text
			if s.Type == "" {
				s.Type = models.StatementTypeFact
			}
			if err := validateStatementType(s.Type); err != nil {
				return nil, fmt.Errorf("statement %d: %w", len(out)+1, err)
			}
			s.Order = len(out) + 1
			out = append(out, s)
		}
		return out, nil

	case []string:
		out := make([]models.AtomicStatement, 0, len(v))
		for _, text := range v {
			stmt, err := statementFromText(text, len(out)+1)
			if err != nil {
				return nil, err
			}
			out = append(out, stmt)
		}
		return out, nil

	case []any:
		out := make([]models.AtomicStatement, 0, len(v))
		for _, item := range v {
			switch entry := item.(type) {
			case string:
				stmt, err := statementFromText(entry, len(out)+1)
				if err != nil {
					return nil, err
				}
				out = append(out, stmt)
			case map[string]any:
				stmt, err := statementFromMap(entry, len(out)+1)
				if err != nil {
					return nil, err
				}
				out = append(out, stmt)
			default:
				return nil, fmt.Errorf("statement %d has type %T: %w",
					len(out)+1, item, apperrors.ErrInvalidStatementShape)
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("statements have type %T: %w", raw, apperrors.ErrInvalidStatementShape)
	}
}

func statementFromText(text string, order int) (models.AtomicStatement, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.AtomicStatement{}, fmt.Errorf("statement %d: %w", order, apperrors.ErrMissingStatementText)
	}
	return models.AtomicStatement{
		Order: order,
		Type:  models.StatementTypeFact,
		Text:  text,
	}, nil
}

func statementFromMap(entry map[string]any, order int) (models.AtomicStatement, error) {
	text, _ := entry["text"].(string)
	text = strings.TrimSpace(text)
	if text == "" {
		return models.AtomicStatement{}, fmt.Errorf("statement %d: %w", order, apperrors.ErrMissingStatementText)
	}

	stmt := models.AtomicStatement{
		Order: order,
		Type:  models.StatementTypeFact,
		Text:  text,
	}

	if t, ok := entry["type"].(string); ok && t != "" {
		stmt.Type = models.StatementType(t)
		if err := validateStatementType(stmt.Type); err != nil {
			return models.AtomicStatement{}, fmt.Errorf("statement %d: %w", order, err)
		}
	}
	if speaker, ok := entry["speaker"].(string); ok && strings.TrimSpace(speaker) != "" {
		s := strings.TrimSpace(speaker)
		stmt.Speaker = &s
	}
	return stmt, nil
}

func validateStatementType(t models.StatementType) error {
	switch t {
	case models.StatementTypeFact, models.StatementTypeQuote, models.StatementTypeContext:
		return nil
	default:
		return fmt.Errorf("unknown statement type %q: %w", t, apperrors.ErrInvalidStatementShape)
	}
}
