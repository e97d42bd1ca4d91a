package documents

// ForReview is the placeholder value extraction writes for a required
// field it could not read. Coverage scoring treats it as missing.
const ForReview = "ForReview"

// requiredFields maps each extractable category to the fields its
// schema requires. Blank and link-only documents have no schema.
var requiredFields = map[Category][]string{
	CategoryCERL:  {"PrincipalCompanyName", "TaxId", "DocumentCategory", "RelatedParties"},
	CategoryRUT:   {"PrincipalCompanyName", "TaxId", "DocumentCategory"},
	CategoryRUB:   {"PrincipalCompanyName", "TaxId", "DocumentCategory", "RelatedParties"},
	CategoryACC:   {"PrincipalCompanyName", "TaxId", "DocumentCategory", "RelatedParties"},
	CategoryCECRL: {"FirstName", "LastName", "IdentificationType", "IdentificationNumber", "Country"},
}

// RequiredFields returns the schema-required field names for a
// category. The returned slice must not be mutated.
func RequiredFields(c Category) []string {
	return requiredFields[c]
}

// TypeFor returns the document type a category's subject implies.
func TypeFor(c Category) DocumentType {
	if c == CategoryCECRL {
		return TypePerson
	}
	return TypeCompany
}
