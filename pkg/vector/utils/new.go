// Package vectorutils is the vector utility package
package vectorutils

import (
	"fmt"
	"log/slog"

	"github.com/quillml/distill/pkg/vector"
	"github.com/quillml/distill/pkg/vector/sqlitevec"
)

type NewIndexOpts struct {
	ProviderType string
	DBPath       string
	Dimensions   uint
	Logger       *slog.Logger
}

func NewIndex(o *NewIndexOpts) (vector.Index, error) {
	switch o.ProviderType {
	case "exact":
		return vector.NewExact(), nil
	case "sqlitevec":
		return sqlitevec.New(sqlitevec.Config{
			DBPath:     o.DBPath,
			Dimensions: o.Dimensions,
		}, o.Logger)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}
