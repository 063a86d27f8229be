package evelin

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Source is one named translation unit handed to Compile.
type Source struct {
	Path string
	Text string
}

// Result is everything a successful Compile run produced; Module.String()
// is the IR text handed to the downstream backend.
type Result struct {
	Program *Program
	Module  *Module
}

// Compile runs the full core pipeline (lex, parse, semantic passes, type
// check, emit) over one or more sources. Control flow is strictly linear
// and each stage's errors are checked before the next stage runs: any
// error-severity diagnostic from a stage aborts the pipeline immediately,
// while warnings from the semantic passes are returned alongside the result.
func Compile(sources []Source) (*Result, []error) {
	log.WithField("files", len(sources)).Debug("compile: starting pipeline")

	type unit struct {
		path    string
		program *Program
	}
	// Each file's lexer and parser touch only their own state, so files are
	// lexed and parsed concurrently; the per-unit error slots keep
	// diagnostics attributable without a lock.
	units := make([]unit, len(sources))
	unitErrs := make([][]error, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			tokens, lexErrs := NewLexer(src.Text).Scan()
			if len(lexErrs) > 0 {
				unitErrs[i] = lexErrs
				return
			}
			prog, parseErrs := NewParser(tokens).ParseProgram()
			if len(parseErrs) > 0 {
				unitErrs[i] = parseErrs
				return
			}
			units[i] = unit{path: src.Path, program: prog}
		}(i, src)
	}
	wg.Wait()

	var lexParseErrs []error
	for _, errs := range unitErrs {
		lexParseErrs = append(lexParseErrs, errs...)
	}
	if len(lexParseErrs) > 0 {
		return nil, lexParseErrs
	}

	// Declarations are merged deterministically by sorting on source path
	// before any pass runs, since semantic/type passes assume a single
	// global view.
	sort.Slice(units, func(i, j int) bool { return units[i].path < units[j].path })

	merged := &Program{}
	for _, u := range units {
		merged.Functions = append(merged.Functions, u.program.Functions...)
		merged.Structs = append(merged.Structs, u.program.Structs...)
	}

	fns, structs, passErrs := RunPasses(merged.Functions, merged.Structs)
	if hasFatal(passErrs) {
		return nil, passErrs
	}

	typeErrs := NewTypeChecker(fns, structs).Check(fns)
	if len(typeErrs) > 0 {
		return nil, append(passErrs, typeErrs...)
	}

	mod, err := NewEmitter(fns, structs).Emit(fns)
	if err != nil {
		return nil, append(passErrs, errors.Wrap(err, "emitting IR"))
	}

	merged.Functions, merged.Structs = fns, structs
	return &Result{Program: merged, Module: mod}, passErrs
}

// hasFatal reports whether errs contains anything beyond warnings, since
// warnings (e.g. DeadCodeAfterReturn) never fail compilation.
func hasFatal(errs []error) bool {
	for _, e := range errs {
		if d, ok := e.(*Diagnostic); ok {
			if d.Severity == SeverityError {
				return true
			}
			continue
		}
		return true
	}
	return false
}
