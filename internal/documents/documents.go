// Package documents implements the document domain for the processing
// pipeline. It provides category and type vocabulary, source path
// parsing, and the per-category field schemas the confidence router
// evaluates against.
package documents

import (
	"fmt"
	"path"
	"strings"
)

// Category identifies the document class assigned by classification.
type Category string

const (
	CategoryCERL     Category = "CERL"
	CategoryCECRL    Category = "CECRL"
	CategoryRUT      Category = "RUT"
	CategoryRUB      Category = "RUB"
	CategoryACC      Category = "ACC"
	CategoryBlank    Category = "BLANK"
	CategoryLinkOnly Category = "LINK_ONLY"
)

// Categories lists every category classification may assign.
var Categories = []Category{
	CategoryCERL, CategoryCECRL, CategoryRUT, CategoryRUB,
	CategoryACC, CategoryBlank, CategoryLinkOnly,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Terminal reports whether c ends the pipeline at classification:
// blank and link-only documents carry no extractable fields, so they
// are persisted and never enqueued for extraction.
func (c Category) Terminal() bool {
	return c == CategoryBlank || c == CategoryLinkOnly
}

// DocumentType distinguishes person documents from company documents.
type DocumentType string

const (
	TypePerson  DocumentType = "person"
	TypeCompany DocumentType = "company"
)

// Reference identifies a source document in the origin bucket.
type Reference struct {
	// ID is the stable pipeline identity: <category>/<docNumber>/<fileStem>.
	ID             string
	Category       Category
	DocumentNumber string
	Bucket         string
	// Key is the object key within Bucket.
	Key string
}

// Path returns the s3:// form of the reference.
func (r Reference) Path() string {
	return fmt.Sprintf("s3://%s/%s", r.Bucket, r.Key)
}

// FileID returns the file stem of the source object.
func (r Reference) FileID() string {
	base := path.Base(r.Key)
	return strings.TrimSuffix(base, path.Ext(base))
}

// ParseSourcePath builds a Reference from an s3:// URI whose key ends
// in <category>/<docNumber>/<file>. Deeper prefixes ahead of the
// category segment are permitted and ignored for identity.
func ParseSourcePath(uri string) (Reference, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidPath, uri)
	}

	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidPath, uri)
	}

	return ParseKey(bucket, key)
}

// ParseKey builds a Reference from a bucket and object key.
func ParseKey(bucket, key string) (Reference, error) {
	segments := strings.Split(strings.Trim(key, "/"), "/")
	if len(segments) < 3 {
		return Reference{}, fmt.Errorf("%w: key %q needs <category>/<docNumber>/<file>", ErrInvalidPath, key)
	}

	category := Category(strings.ToUpper(segments[len(segments)-3]))
	docNumber := segments[len(segments)-2]
	file := segments[len(segments)-1]

	if !category.Valid() {
		return Reference{}, fmt.Errorf("%w: %q in key %q", ErrUnknownCategory, category, key)
	}
	if docNumber == "" || file == "" {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidPath, key)
	}

	stem := strings.TrimSuffix(file, path.Ext(file))
	return Reference{
		ID:             fmt.Sprintf("%s/%s/%s", category, docNumber, stem),
		Category:       category,
		DocumentNumber: docNumber,
		Bucket:         bucket,
		Key:            key,
	}, nil
}
