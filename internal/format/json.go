package format

import (
	"encoding/json"
	"io"

	"github.com/kebairia/borgreport/internal/report"
)

// JSON renders the Report as indented JSON for further processing.
type JSON struct{}

var _ Formatter = JSON{}

func (JSON) Format(w io.Writer, r *report.Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}
