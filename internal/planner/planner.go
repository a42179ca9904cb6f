// Package planner memoizes Compiler output by document identity (spec
// §4.2): getPlan returns the same *compiler.Plan reference for repeated
// calls with the same (document, fragmentName) pair.
package planner

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/lockvoid/cachebay/internal/compiler"
)

type cacheKey struct {
	doc          interface{} // AST identity (pointer) or exact source string
	fragmentName string
}

// Planner memoizes compiled plans. It is safe for concurrent use; concurrent
// GetPlan calls for the same (doc, fragmentName) collapse into a single
// Compiler invocation via sf, rather than racing to compile the same
// document twice.
type Planner struct {
	mu    sync.Mutex
	plans map[cacheKey]*compiler.Plan
	sf    singleflight.Group
}

// New creates an empty Planner.
func New() *Planner {
	return &Planner{plans: map[cacheKey]*compiler.Plan{}}
}

// GetPlan resolves doc (a string source, an already-compiled *compiler.Plan,
// or any caller-interned document handle) to a Plan, compiling and caching
// on first use. A Plan argument is returned unchanged. Compile failures are
// never cached (spec §4.2).
func (p *Planner) GetPlan(doc interface{}, fragmentName string) (*compiler.Plan, error) {
	if plan, ok := doc.(*compiler.Plan); ok {
		return plan, nil
	}

	key := cacheKey{doc: doc, fragmentName: fragmentName}

	p.mu.Lock()
	if plan, ok := p.plans[key]; ok {
		p.mu.Unlock()
		return plan, nil
	}
	p.mu.Unlock()

	source, ok := doc.(string)
	if !ok {
		source = stringify(doc)
	}

	sfKey := fmt.Sprintf("%s\x00%s", fragmentName, source)
	v, err, _ := p.sf.Do(sfKey, func() (interface{}, error) {
		return compiler.Compile(source, compiler.Options{FragmentName: fragmentName})
	})
	if err != nil {
		return nil, err
	}
	plan := v.(*compiler.Plan)

	p.mu.Lock()
	p.plans[key] = plan
	p.mu.Unlock()

	return plan, nil
}

// stringify is the fallback used when doc is neither a string nor a Plan;
// callers are expected to pass source strings or their own interned AST
// handles whose == identity is stable (spec §9 "document interning is the
// caller's responsibility").
func stringify(doc interface{}) string {
	if s, ok := doc.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}
