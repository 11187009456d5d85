// Package pdfinspect reads page count and encryption state of uploaded PDFs
// before they are sent to the extraction model.
package pdfinspect

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
)

type Inspector struct{}

func New() *Inspector {
	return &Inspector{}
}

func (i *Inspector) Inspect(document []byte) (info domain.DocumentInfo, err error) {
	if len(document) == 0 {
		return domain.DocumentInfo{}, fmt.Errorf("empty document")
	}
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			info = domain.DocumentInfo{}
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(document), int64(len(document)))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return domain.DocumentInfo{Encrypted: true}, nil
		}
		return domain.DocumentInfo{}, fmt.Errorf("parse pdf: %w", err)
	}

	pages := reader.NumPage()
	if pages <= 0 {
		return domain.DocumentInfo{}, fmt.Errorf("parse pdf: document has no pages")
	}
	return domain.DocumentInfo{Pages: pages}, nil
}
