package httpapi

import (
	"sort"
	"time"

	"github.com/ocx/accessd/internal/model"
)

// Analytics is the aggregate computed over a slice of Transactions for
// GET /get_analytics and GET /get_user_report.
type Analytics struct {
	TotalCount    int            `json:"total_count"`
	ByStatus      map[string]int `json:"by_status"`
	ByReader      map[int]int    `json:"by_reader"`
	ByHour        [24]int        `json:"by_hour"`
	ByDay         map[string]int `json:"by_day"`
	DistinctCards int            `json:"distinct_cards"`
	TopCards      []CardCount    `json:"top_cards"`
	PeakHour      int            `json:"peak_hour"`
	BusiestDay    string         `json:"busiest_day"`
	BusiestReader int            `json:"busiest_reader"`
}

// CardCount is one entry of the top-K cards-by-count list.
type CardCount struct {
	Card  string `json:"card"`
	Count int    `json:"count"`
}

const defaultTopK = 10

// aggregate computes the full analytics contract over txs.
func aggregate(txs []model.Transaction) Analytics {
	a := Analytics{
		ByStatus: make(map[string]int),
		ByReader: make(map[int]int),
		ByDay:    make(map[string]int),
	}
	cardCounts := make(map[string]int)

	for _, tx := range txs {
		a.TotalCount++
		a.ByStatus[string(tx.Status)]++
		a.ByReader[tx.Reader]++
		cardCounts[tx.Card]++

		t := time.Unix(tx.Timestamp, 0).UTC()
		a.ByHour[t.Hour()]++
		a.ByDay[t.Format("20060102")]++
	}

	a.DistinctCards = len(cardCounts)
	a.TopCards = topCards(cardCounts, defaultTopK)
	a.PeakHour = argmaxHour(a.ByHour)
	a.BusiestDay = argmaxString(a.ByDay)
	a.BusiestReader = argmaxInt(a.ByReader)
	return a
}

func topCards(counts map[string]int, k int) []CardCount {
	out := make([]CardCount, 0, len(counts))
	for card, n := range counts {
		out = append(out, CardCount{Card: card, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Card < out[j].Card
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func argmaxHour(hours [24]int) int {
	best, bestHour := -1, 0
	for h, n := range hours {
		if n > best {
			best, bestHour = n, h
		}
	}
	return bestHour
}

func argmaxString(counts map[string]int) string {
	best := -1
	var bestKey string
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > best {
			best, bestKey = counts[k], k
		}
	}
	return bestKey
}

func argmaxInt(counts map[int]int) int {
	best, bestKey := -1, 0
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		if counts[k] > best {
			best, bestKey = counts[k], k
		}
	}
	return bestKey
}
