package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"otodom-stats/models"
	"otodom-stats/storage"
	"otodom-stats/utils"
)

// DistrictInsight is the statistic of one district across room types.
type DistrictInsight struct {
	District       string  `json:"district"`
	Listings       int     `json:"listings"`
	AvgPricePerSqm float64 `json:"avgPricePerSqm"`
}

// InsightReport summarises the persisted aggregates of one city.
type InsightReport struct {
	City          string                      `json:"city"`
	TotalListings int                         `json:"totalListings"`
	Reported      int                         `json:"reported"`
	ByRoomType    map[models.RoomType]Summary `json:"byRoomType"`
	Districts     []DistrictInsight           `json:"districts"`
}

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate builds a report from the aggregates of a single city.
func (s *InsightService) Generate(city string, records []storage.AggregateRecord) *InsightReport {
	report := &InsightReport{
		City:       city,
		ByRoomType: make(map[models.RoomType]Summary),
	}
	if len(records) == 0 {
		return report
	}

	perRoom := make(map[models.RoomType][]int)
	type acc struct {
		listings int
		weighted float64
	}
	perDistrict := make(map[string]*acc)

	for _, r := range records {
		report.TotalListings += r.Count
		report.Reported += r.ReportedCount
		perRoom[r.RoomType] = append(perRoom[r.RoomType], r.PricesPerSqm...)

		a, ok := perDistrict[r.District]
		if !ok {
			a = &acc{}
			perDistrict[r.District] = a
		}
		a.listings += r.Count
		a.weighted += r.AvgPricePerSqm * float64(r.Count)
	}

	for room, values := range perRoom {
		report.ByRoomType[room] = Summarize(values)
	}

	for district, a := range perDistrict {
		d := DistrictInsight{District: district, Listings: a.listings}
		if a.listings > 0 {
			d.AvgPricePerSqm = round2(a.weighted / float64(a.listings))
		}
		report.Districts = append(report.Districts, d)
	}
	// Most expensive first
	sort.Slice(report.Districts, func(i, j int) bool {
		if report.Districts[i].AvgPricePerSqm == report.Districts[j].AvgPricePerSqm {
			return report.Districts[i].District < report.Districts[j].District
		}
		return report.Districts[i].AvgPricePerSqm > report.Districts[j].AvgPricePerSqm
	})

	s.logger.Debug("[insights] %s: %d records, %d listings", city, len(records), report.TotalListings)
	return report
}

func (s *InsightService) Print(w io.Writer, r *InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 OTODOM PRICE INSIGHTS: %s\033[0m\n", strings.ToUpper(r.City))
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Listings collected : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintf(w, "  Listings reported  : \033[1m%d\033[0m\n", r.Reported)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Price per m² by Room Type\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.ByRoomType) == 0 {
		fmt.Fprintf(w, "  No price data available\n")
	}
	for _, room := range models.AllRoomTypes() {
		sum, ok := r.ByRoomType[room]
		if !ok || sum.Count == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-10s n=%-5d median \033[1;32m%8.0f zł\033[0m  (p25 %.0f, p75 %.0f)\n",
			room, sum.Count, sum.Median, sum.P25, sum.P75)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Districts by Average Price per m²\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.Districts) == 0 {
		fmt.Fprintf(w, "  No district data\n")
	}
	top := 0.0
	if len(r.Districts) > 0 {
		top = r.Districts[0].AvgPricePerSqm
	}
	for _, d := range r.Districts {
		width := 0
		if top > 0 {
			width = int(d.AvgPricePerSqm / top * 20)
		}
		bar := strings.Repeat("█", width)
		fmt.Fprintf(w, "  %-24s %-20s %8.0f zł (%d)\n", truncate(d.District, 22), bar, d.AvgPricePerSqm, d.Listings)
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func truncate(s string, max int) string {
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}
