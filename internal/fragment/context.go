package fragment

// ParentContexts returns every context reachable from ctx by following the
// dependencies of its fragments, in breadth-first discovery order. ctx itself
// appears in the result only when it is reachable through another context.
func ParentContexts(ctx *Context) []*Context {
	var (
		order []*Context
		seen  = map[*Context]bool{}
		queue = []*Context{ctx}
	)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, f := range cur.fragments {
			for _, dep := range f.Dependencies {
				next := dep.Context
				if next == cur || seen[next] {
					continue
				}
				seen[next] = true
				order = append(order, next)
				queue = append(queue, next)
			}
		}
	}
	return order
}

// InLoop reports whether ctx reaches itself through a path longer than the
// trivial self-edge.
func InLoop(ctx *Context) bool {
	for _, p := range ParentContexts(ctx) {
		if p == ctx {
			return true
		}
	}
	return false
}

// Compatible reports whether a fragment compiled in from may be consumed
// from to without recompiling it. That holds for the same context, and for a
// history lane whose chain of HistoryContext links reaches to: history lanes
// run first and their per-sample values are available as whole blocks.
func Compatible(from, to *Context) bool {
	if from == to {
		return true
	}
	for h := from.HistoryContext; h != nil; h = h.HistoryContext {
		if h == to {
			return true
		}
	}
	return false
}

// Order returns the contexts so that every context comes after the contexts
// it depends on. Contexts caught in a loop are returned separately and left
// out of the order.
func Order(contexts []*Context) (ordered, looped []*Context) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*Context]int, len(contexts))
	var visit func(c *Context) bool
	visit = func(c *Context) bool {
		switch state[c] {
		case done:
			return true
		case visiting:
			return false
		}
		state[c] = visiting
		ok := true
		for _, f := range c.fragments {
			for _, dep := range f.Dependencies {
				if dep.Context != c && !visit(dep.Context) {
					ok = false
				}
			}
		}
		state[c] = done
		if ok {
			ordered = append(ordered, c)
		} else {
			looped = append(looped, c)
		}
		return ok
	}
	for _, c := range contexts {
		visit(c)
	}
	return ordered, looped
}
