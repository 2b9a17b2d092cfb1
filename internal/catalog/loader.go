package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/grainplan/internal/model"
	"github.com/roach88/grainplan/internal/queryir"
)

// LoadMode controls how errors are handled during catalog loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Catalog is a loaded environment plus its named queries.
type Catalog struct {
	Env     *model.Environment
	Queries map[string]model.Select

	// Warnings lists non-portable where clauses. They do not fail the load.
	Warnings []string

	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// QueryNames returns the names of all queries, sorted.
func (c *Catalog) QueryNames() []string {
	names := make([]string, 0, len(c.Queries))
	for name := range c.Queries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Query looks up a named query.
func (c *Catalog) Query(name string) (model.Select, bool) {
	stmt, ok := c.Queries[name]
	return stmt, ok
}

// Load loads a catalog from every CUE file in dir.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func Load(dir string, mode LoadMode) (*Catalog, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("catalog directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing catalog directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Validate(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	cat, errs := FromValue(value, mode)
	if cat != nil {
		cat.FileCount = len(cueFiles)
	}
	return cat, errs
}

// LoadString loads a catalog from CUE source text. Harness scenarios embed
// their catalogs this way.
func LoadString(src string, mode LoadMode) (*Catalog, []error) {
	value := cuecontext.New().CompileString(src, cue.Filename("catalog.cue"))
	if err := value.Validate(); err != nil {
		loadErr := &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
		if ce, ok := formatCUEError(err).(*CompileError); ok {
			loadErr.Pos = ce.Pos
		}
		return nil, []error{loadErr}
	}
	return FromValue(value, mode)
}

// FromValue compiles concepts, then datasources, then queries. Each stage
// only sees what earlier stages registered.
func FromValue(value cue.Value, mode LoadMode) (*Catalog, []error) {
	var errs []error
	cat := &Catalog{
		Env:      model.NewEnvironment(),
		Queries:  make(map[string]model.Select),
		CUEValue: value,
	}

	fail := func(err error) bool {
		errs = append(errs, err)
		return mode == LoadModeFailFast
	}

	stop := eachField(value, "concept", &errs, func(label string, v cue.Value) bool {
		c, err := CompileConcept(label, v)
		if err != nil {
			return fail(convertCompileError(err, "concept."+label))
		}
		if err := cat.Env.AddConcept(c); err != nil {
			return fail(&LoadError{Code: ErrCodeDuplicate, Message: err.Error(), Pos: v.Pos()})
		}
		return false
	})
	if stop || (mode == LoadModeFailFast && len(errs) > 0) {
		return cat, errs
	}

	stop = eachField(value, "datasource", &errs, func(label string, v cue.Value) bool {
		ds, err := CompileDatasource(label, v, cat.Env)
		if err != nil {
			return fail(convertCompileError(err, "datasource."+label))
		}
		if err := cat.Env.AddDatasource(ds); err != nil {
			return fail(&LoadError{Code: ErrCodeDuplicate, Message: err.Error(), Pos: v.Pos()})
		}
		return false
	})
	if stop || (mode == LoadModeFailFast && len(errs) > 0) {
		return cat, errs
	}

	eachField(value, "query", &errs, func(label string, v cue.Value) bool {
		stmt, err := CompileQuery(v, cat.Env)
		if err != nil {
			return fail(convertCompileError(err, "query."+label))
		}
		if stmt.Where != nil {
			result := queryir.Validate(stmt.Where, func(addr string) bool {
				_, ok := cat.Env.Concept(addr)
				return ok
			})
			for _, w := range result.Warnings {
				cat.Warnings = append(cat.Warnings, fmt.Sprintf("query.%s: %s", label, w))
			}
		}
		cat.Queries[label] = stmt
		return false
	})

	if len(cat.Env.Datasources()) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no datasources found in catalog"})
	}
	return cat, errs
}

// eachField calls fn for every field under the top-level section name.
// fn returns true to stop iteration. eachField reports whether it stopped.
func eachField(value cue.Value, section string, errs *[]error, fn func(string, cue.Value) bool) bool {
	sectionVal := value.LookupPath(cue.ParsePath(section))
	if !sectionVal.Exists() {
		return false
	}
	iter, err := sectionVal.Fields()
	if err != nil {
		*errs = append(*errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating %s: %v", section, err)})
		return false
	}
	for iter.Next() {
		if fn(iter.Label(), iter.Value()) {
			return true
		}
	}
	return false
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
