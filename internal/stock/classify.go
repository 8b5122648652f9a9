package stock

// Classify compares current statuses with the previously recorded ones.
//
// It returns one transition per product that is first seen in stock or
// flipped from out of stock, in the order of current, together with the
// state to persist: previous overlaid with every current status. Products
// missing from current keep their previous value. previous is not modified.
func Classify(current []ProductStatus, previous map[string]bool) ([]StockTransition, map[string]bool) {
	updated := make(map[string]bool, len(previous)+len(current))
	for id, inStock := range previous {
		updated[id] = inStock
	}

	var transitions []StockTransition
	for _, ps := range current {
		was, known := previous[ps.ID]
		updated[ps.ID] = ps.InStock
		if !ps.InStock || (known && was) {
			continue
		}
		prior := PriorUnknown
		if known {
			prior = PriorOutOfStock
		}
		transitions = append(transitions, StockTransition{
			ProductID:  ps.ID,
			Name:       ps.Name,
			Previous:   prior,
			NewInStock: true,
			Quantity:   ps.Quantity,
		})
	}
	return transitions, updated
}
