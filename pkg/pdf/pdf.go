// Package pdf provides PDF inspection and trimming helpers built on pdfcpu.
package pdf

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrInvalidDocument is returned when data cannot be processed as a PDF.
var ErrInvalidDocument = errors.New("invalid PDF document")

// PageCount returns the number of pages in the PDF.
func PageCount(data []byte) (int, error) {
	count, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return count, nil
}

// FirstPage trims the PDF to its first page. Single-page documents are
// returned unchanged without re-encoding.
func FirstPage(data []byte) ([]byte, error) {
	count, err := PageCount(data)
	if err != nil {
		return nil, err
	}
	if count <= 1 {
		return data, nil
	}

	var buf bytes.Buffer
	if err := api.Trim(bytes.NewReader(data), &buf, []string{"1"}, nil); err != nil {
		return nil, fmt.Errorf("%w: trim first page: %v", ErrInvalidDocument, err)
	}
	return buf.Bytes(), nil
}
