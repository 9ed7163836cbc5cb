// Package pagination walks the remote search endpoint backward, page by page,
// and aggregates the results of one polling pass.
//
// Pages are returned newest first. After every page the pager moves the
// cursor (Criteria.MaxID) to the oldest item it has seen, so the next request
// asks for strictly older items. The loop continues only while all of the
// following hold:
//   - the page was full (it held Config.PageSize items)
//   - the reported budget is above Limits.MinRemainingBudget
//   - fewer than Limits.MaxPageCount pages have been fetched
//
// Example usage:
//
//	pager := pagination.NewPager(searchClient, pagination.DefaultConfig())
//	result, err := pager.FetchAll(ctx, search.Criteria{Query: "golang"}, pagination.Limits{
//		MaxPageCount:       10,
//		MinRemainingBudget: 5,
//	})
//
// A failed page fetch ends the loop: FetchAll returns the items aggregated so
// far together with a *search.TransportError. Running out of budget, reaching
// the page cap, a partial page and an empty page are normal stops reported in
// Result.Stop.
package pagination
