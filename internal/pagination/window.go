// Package pagination computes the page-number strip and row range shown
// under a table.
package pagination

import (
	"github.com/pitabwire/concierge/model"
)

// DefaultRadius is the number of pages shown on each side of the current page.
const DefaultRadius = 3

// Item is one entry of the page-number strip: a page number or an ellipsis.
type Item = model.PageItem

// View is the complete pagination state for a rendered page.
type View = model.PaginationView

// Window returns the page strip [1, …, current-radius..current+radius, …, last]
// clipped to [1, last]. Boundary pages are never repeated and an ellipsis is
// only emitted where at least one page is hidden. A current page beyond last
// is not clamped; the strip is centred on last and no item is marked current.
func Window(current, last, radius int) []Item {
	if last <= 0 {
		return nil
	}
	if radius < 0 {
		radius = 0
	}
	center := min(max(current, 1), last)
	lo := max(1, center-radius)
	hi := min(last, center+radius)

	items := make([]Item, 0, hi-lo+5)
	if lo > 1 {
		items = append(items, pageItem(1, current))
		if lo > 2 {
			items = append(items, Item{Ellipsis: true})
		}
	}
	for p := lo; p <= hi; p++ {
		items = append(items, pageItem(p, current))
	}
	if hi < last {
		if hi < last-1 {
			items = append(items, Item{Ellipsis: true})
		}
		items = append(items, pageItem(last, current))
	}
	return items
}

func pageItem(p, current int) Item {
	return Item{Page: p, Current: p == current}
}

// LastPage returns ceil(total/perPage), or 0 when there is nothing to page.
func LastPage(total, perPage int) int {
	if total <= 0 || perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// Build computes the full view for the given query and server metadata. The
// server's CurrentPage and LastPage win over the requested state; LastPage is
// derived from Total when the server omitted it.
func Build(state model.QueryState, meta model.Meta, radius int) View {
	current := meta.CurrentPage
	if current <= 0 {
		current = state.Page
	}
	perPage := meta.PerPage
	if perPage <= 0 {
		perPage = state.Limit
	}
	last := meta.LastPage
	if last <= 0 {
		last = LastPage(meta.Total, perPage)
	}

	v := View{Items: Window(current, last, radius)}
	if v.Items == nil {
		v.Items = []Item{}
	}
	if current > 1 {
		v.HasPrev = true
		v.Prev = current - 1
	}
	if current < last {
		v.HasNext = true
		v.Next = current + 1
	}

	if meta.Total > 0 && perPage > 0 {
		from := (current-1)*perPage + 1
		if from <= meta.Total {
			v.From = from
			v.To = min(current*perPage, meta.Total)
		}
	}
	return v
}
