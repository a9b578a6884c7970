package sink

// groupBuilder accumulates parameter maps per statement string while
// remembering first-appearance statement order. Both the handlers and the
// batch grouper use it, which is what makes grouping idempotent: the
// grouping key is the statement text itself.
type groupBuilder struct {
	order  []string
	events map[string][]map[string]interface{}
}

func newGroupBuilder() *groupBuilder {
	return &groupBuilder{events: make(map[string][]map[string]interface{})}
}

func (g *groupBuilder) add(statement string, event map[string]interface{}) {
	if _, ok := g.events[statement]; !ok {
		g.order = append(g.order, statement)
	}
	g.events[statement] = append(g.events[statement], event)
}

func (g *groupBuilder) addAll(statement string, events []map[string]interface{}) {
	if _, ok := g.events[statement]; !ok {
		g.order = append(g.order, statement)
	}
	g.events[statement] = append(g.events[statement], events...)
}

func (g *groupBuilder) build() []QueryEvents {
	out := make([]QueryEvents, 0, len(g.order))
	for _, statement := range g.order {
		out = append(out, QueryEvents{Statement: statement, Events: g.events[statement]})
	}
	return out
}

// Group coalesces query events that share an identical statement string,
// appending their parameter lists in input order.
//
// Because handlers emit events in record order and Group never reorders
// within a statement, parameters for the same logical key keep their
// offset order as long as the input batch came from one partition. Calling
// Group on its own output is a no-op.
func Group(events []QueryEvents) []QueryEvents {
	if len(events) <= 1 {
		return events
	}
	builder := newGroupBuilder()
	for _, qe := range events {
		builder.addAll(qe.Statement, qe.Events)
	}
	return builder.build()
}
