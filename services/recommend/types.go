package recommend

import (
	"prodrec-backend/lib/scrapers/catalog"
)

// Batch is one keyword's worth of aggregated products. Scores run
// parallel to Records, aligned by index.
type Batch struct {
	Keyword string
	Records []catalog.Product
	Scores  []float64
}
