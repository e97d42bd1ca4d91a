package documents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lhuarcayat/BedrockAgent/pkg/formatting"
)

// ParseClassification reads a classification model response into its
// category, document type, and normalized field map. Key variants are
// folded onto the canonical names and the category is case-folded, so
// a "rut" under a "Category" key parses the same as "RUT" under
// "category". An unrecognized category wraps ErrUnknownCategory.
func ParseClassification(content string) (Category, DocumentType, map[string]any, error) {
	fields, err := formatting.Parse[map[string]any](content)
	if err != nil {
		return "", "", nil, err
	}

	normalized, err := normalizeFields(fields)
	if err != nil {
		return "", "", nil, err
	}

	rawCategory, _ := normalized["category"].(string)
	category := Category(strings.ToUpper(strings.TrimSpace(rawCategory)))
	if !category.Valid() {
		return "", "", nil, fmt.Errorf("%w: %q", ErrUnknownCategory, rawCategory)
	}

	docType := TypeFor(category)
	if raw, ok := normalized["document_type"].(string); ok {
		switch DocumentType(strings.ToLower(strings.TrimSpace(raw))) {
		case TypePerson:
			docType = TypePerson
		case TypeCompany:
			docType = TypeCompany
		}
	}

	return category, docType, normalized, nil
}

// normalizeFields folds model key variants onto the canonical names.
func normalizeFields(fields map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	normalized, err := formatting.NormalizeKeys(raw)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(normalized, &out); err != nil {
		return nil, err
	}
	return out, nil
}
