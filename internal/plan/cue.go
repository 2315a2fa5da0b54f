package plan

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaCUE string

// LoadCUE reads and parses a CUE plan file.
func LoadCUE(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return parseCUE(data, path)
}

// ParseCUE parses a CUE plan.
// The file is unified with the #Plan schema, so unknown fields and unknown
// operations are rejected by CUE itself.
func ParseCUE(data []byte) (*Plan, error) {
	return parseCUE(data, "plan.cue")
}

func parseCUE(data []byte, filename string) (*Plan, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("plan schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse CUE: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Plan")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid CUE plan: %w", err)
	}

	var p Plan
	if err := unified.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode CUE plan: %w", err)
	}
	p.normalize()
	return &p, nil
}
