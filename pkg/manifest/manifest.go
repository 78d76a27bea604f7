package manifest

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"

	"github.com/provisio/provisio/pkg/engine"
)

// deploymentSchema is the CUE schema every descriptor must satisfy.
// Unification with the descriptor happens before decoding, so shape errors
// carry CUE positions.
const deploymentSchema = `
deployment: {
	name:        string & !=""
	environment: string & !=""
	labels?: [string]: string
	steps: [...{
		id:   string & !=""
		kind: "workspace" | "container" | "role-binding"
		name: string & !=""
		params?: [string]: _
	}] & [_, ...]
}
`

// Loader parses deployment descriptors.
type Loader struct {
	ctx      *cue.Context
	schema   cue.Value
	validate *validator.Validate
}

// NewLoader compiles the built-in schema and returns a ready loader.
func NewLoader() *Loader {
	ctx := cuecontext.New()
	return &Loader{
		ctx:      ctx,
		schema:   ctx.CompileString(deploymentSchema),
		validate: validator.New(),
	}
}

// Load reads and parses the descriptor file at path.
func (l *Loader) Load(path string) (*engine.Deployment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	dep, err := l.parse(string(content), path)
	if err != nil {
		return nil, err
	}
	return dep, nil
}

// ParseInline parses a descriptor from a string, mainly for tests and
// validation tooling.
func (l *Loader) ParseInline(content string) (*engine.Deployment, error) {
	return l.parse(content, "")
}

func (l *Loader) parse(content, filename string) (*engine.Deployment, error) {
	var opts []cue.BuildOption
	if filename != "" {
		opts = append(opts, cue.Filename(filename))
	}
	val := l.ctx.CompileString(content, opts...)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("manifest: %s", cueerrors.Details(err, nil))
	}

	unified := val.Unify(l.schema)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("manifest: %s", cueerrors.Details(err, nil))
	}

	depVal := unified.LookupPath(cue.ParsePath("deployment"))
	if !depVal.Exists() {
		return nil, fmt.Errorf("manifest: descriptor has no deployment block")
	}

	var dep engine.Deployment
	if err := depVal.Decode(&dep); err != nil {
		return nil, fmt.Errorf("manifest: decode deployment: %w", err)
	}

	if err := l.validate.Struct(&dep); err != nil {
		return nil, fmt.Errorf("manifest: invalid deployment: %w", err)
	}
	if err := checkStepIDs(dep.Steps); err != nil {
		return nil, err
	}
	return &dep, nil
}

// checkStepIDs rejects duplicate step IDs, which would make run records and
// rollback reports ambiguous.
func checkStepIDs(steps []engine.Step) error {
	seen := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("manifest: duplicate step id %q", step.ID)
		}
		seen[step.ID] = struct{}{}
	}
	return nil
}
