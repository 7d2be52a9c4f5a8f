package report

import (
	"encoding/json"

	"github.com/hydrasec/hydra/internal/scan"
)

// JSONRenderer emits the scan result verbatim as indented JSON
type JSONRenderer struct{}

func (JSONRenderer) Format() Format { return FormatJSON }

func (JSONRenderer) Render(res *scan.Result) ([]byte, error) {
	return json.MarshalIndent(res, "", "  ")
}
