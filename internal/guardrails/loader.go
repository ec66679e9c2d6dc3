package guardrails

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

//go:embed schema.cue
var schemaCUE string

// LoadPolicy loads and validates the CUE policy documents in dir.
//
// All .cue files in the directory are unified into one instance, checked
// against the embedded schema, and decoded. A document that is incomplete
// or violates a bound (say a negative dailyMaxUSD) fails here, before any
// pipeline consults the gate.
func LoadPolicy(dir string) (Policy, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return Policy{}, fmt.Errorf("policy directory not found: %s", dir)
	}
	if err != nil {
		return Policy{}, fmt.Errorf("access policy directory: %w", err)
	}
	if !info.IsDir() {
		return Policy{}, fmt.Errorf("not a directory: %s", dir)
	}

	ctx := cuecontext.New()

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return Policy{}, fmt.Errorf("no CUE files found in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return Policy{}, fmt.Errorf("load policy files: %w", inst.Err)
	}

	doc := ctx.BuildInstance(inst)
	if err := doc.Err(); err != nil {
		return Policy{}, fmt.Errorf("build policy instance: %w", err)
	}

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return Policy{}, fmt.Errorf("compile policy schema: %w", err)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return Policy{}, fmt.Errorf("policy does not satisfy schema: %w", err)
	}

	var p Policy
	val := unified.LookupPath(cue.ParsePath("policy"))
	if err := val.Err(); err != nil {
		return Policy{}, fmt.Errorf("policy field missing: %w", err)
	}
	if err := val.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if p.Users == nil {
		p.Users = map[string]Limits{}
	}
	return p, nil
}
