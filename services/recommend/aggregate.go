package recommend

import (
	"prodrec-backend/lib/scrapers/catalog"
)

// Aggregate concatenates the per-site product lists for one keyword,
// preserving site order and per-site order, and scores every record
// against the keyword. Sites that produced nothing (or a sentinel
// record) contribute those records as-is; the sentinel's score is
// simply low.
func Aggregate(keyword string, siteBatches ...[]catalog.Product) Batch {
	total := 0
	for _, b := range siteBatches {
		total += len(b)
	}
	records := make([]catalog.Product, 0, total)
	for _, b := range siteBatches {
		records = append(records, b...)
	}
	scores := make([]float64, len(records))
	for i, r := range records {
		scores[i] = Score(keyword, r.Name)
	}
	return Batch{Keyword: keyword, Records: records, Scores: scores}
}

// BestMatch returns the index of the batch record most relevant to the
// keyword, breaking score ties with the Jaro-Winkler similarity. -1
// for an empty batch.
func (b Batch) BestMatch() int {
	best := -1
	bestScore := -1.0
	bestSim := -1.0
	for i, r := range b.Records {
		s := b.Scores[i]
		if s < bestScore {
			continue
		}
		sim := Similarity(b.Keyword, r.Name)
		if s > bestScore || sim > bestSim {
			best = i
			bestScore = s
			bestSim = sim
		}
	}
	return best
}
