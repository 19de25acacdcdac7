package formula

// NamedFormula is a formula that produces the result column Name.
type NamedFormula struct {
	Name string
	Text string
}

// OrderFormulas orders result columns so a formula that reads another result
// column runs after it. ties keep input order. the bool is true when some
// formulas read each other in a loop; those keep their input order relative
// to one another and nothing fails.
func OrderFormulas(formulas []NamedFormula) ([]NamedFormula, bool) {
	index := make(map[string]int, len(formulas))
	for i, f := range formulas {
		index[f.Name] = i
	}

	precedents := make([][]int, len(formulas))
	for i, f := range formulas {
		var fields []string
		if node, err := Parse(f.Text); err == nil {
			fields = FieldReferences(node)
		} else {
			fields = ExtractDependencies(f.Text)
		}
		for _, field := range fields {
			if j, ok := index[field]; ok && j != i {
				precedents[i] = append(precedents[i], j)
			}
		}
	}

	// three states: unvisited (not in map), visiting (false), visited (true)
	state := make(map[int]bool, len(formulas))
	order := make([]NamedFormula, 0, len(formulas))
	hasCycle := false

	var visit func(i int)
	visit = func(i int) {
		if completed, exists := state[i]; exists {
			if !completed {
				// currently visiting - cycle detected
				hasCycle = true
			}
			return
		}

		state[i] = false
		for _, j := range precedents[i] {
			visit(j)
		}
		state[i] = true
		order = append(order, formulas[i])
	}

	for i := range formulas {
		visit(i)
	}
	return order, hasCycle
}
