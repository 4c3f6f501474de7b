package services

import (
	"math"
	"sort"

	"otodom-stats/models"
	"otodom-stats/utils"
)

// Aggregate folds the pages of one task into a single result. Listings
// whose URL was already seen on an earlier page are counted once. The
// reported count is taken from the first page that carried one.
func Aggregate(pages []models.PageExtractionResult) *models.AggregateResult {
	res := &models.AggregateResult{
		Prices:       []int{},
		PricesPerSqm: []int{},
	}
	seen := utils.NewURLSet()

	var priceTotal, ppsqmTotal float64
	for _, p := range pages {
		if res.ReportedCount == 0 && p.ReportedCount > 0 {
			res.ReportedCount = p.ReportedCount
		}
		res.Diagnostics.Pages = append(res.Diagnostics.Pages, p.Diagnostics)

		for _, l := range p.Listings {
			if !seen.Add(l.URL) {
				res.Diagnostics.Duplicates++
				continue
			}
			res.Prices = append(res.Prices, l.Price)
			res.PricesPerSqm = append(res.PricesPerSqm, l.PricePerSqm)
			priceTotal += float64(l.Price)
			ppsqmTotal += float64(l.PricePerSqm)
		}
	}

	res.Count = len(res.Prices)
	res.Diagnostics.PagesVisited = len(pages)
	if res.Count > 0 {
		res.AvgPrice = round2(priceTotal / float64(res.Count))
		res.AvgPricePerSqm = round2(ppsqmTotal / float64(res.Count))
	}
	return res
}

// Summary is the five-number summary of a sample.
type Summary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	P25    float64 `json:"p25"`
	Median float64 `json:"median"`
	P75    float64 `json:"p75"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
}

// Summarize computes a Summary. An empty sample yields the zero Summary.
func Summarize(values []int) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := sortedFloats(values)

	var total float64
	for _, v := range sorted {
		total += v
	}
	return Summary{
		Count:  len(sorted),
		Min:    sorted[0],
		P25:    percentileSorted(sorted, 25),
		Median: percentileSorted(sorted, 50),
		P75:    percentileSorted(sorted, 75),
		Max:    sorted[len(sorted)-1],
		Mean:   round2(total / float64(len(sorted))),
	}
}

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between closest ranks.
func Percentile(values []int, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return percentileSorted(sortedFloats(values), p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return round2(sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo)))
}

func sortedFloats(values []int) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	sort.Float64s(out)
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
