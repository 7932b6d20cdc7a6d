package recommend

import (
	"math"
	"strconv"
	"strings"

	"prodrec-backend/lib/textutil"

	"github.com/antzucaro/matchr"
)

// Score rates how relevant a product title is to a search keyword, in
// [0, 1]. Deterministic and purely textual.
//
// The score favors titles that contain many of the keyword's words,
// contain the keyword as a contiguous phrase, and mention the keyword
// words early. A raw score of 1.5 corresponds to an exact full-phrase
// match at the start of the title, so the result is normalized by 1.5
// and clipped; it is an estimate, not a probability.
func Score(keyword, title string) float64 {
	keywordTokens := textutil.Tokenize(textutil.Normalize(keyword))
	normTitle := textutil.Normalize(title)
	titleTokens := textutil.Tokenize(normTitle)
	if len(keywordTokens) == 0 || len(titleTokens) == 0 {
		return 0
	}

	titleSet := map[string]bool{}
	for _, w := range titleTokens {
		titleSet[w] = true
	}
	keywordSet := map[string]bool{}
	for _, w := range keywordTokens {
		keywordSet[w] = true
	}

	// share of keyword words present anywhere in the title
	matched := 0
	for _, w := range keywordTokens {
		if titleSet[w] {
			matched++
		}
	}
	base := float64(matched) / float64(len(keywordTokens))

	// a contiguous phrase match distinguishes "black shoes" from
	// "black shirt with shoes"
	phraseBonus := 1.0
	phrase := textutil.CollapseWhitespace(textutil.Normalize(keyword))
	if phrase != "" && strings.Contains(textutil.CollapseWhitespace(normTitle), phrase) {
		phraseBonus = 1.5
	}

	// earlier occurrences weigh more; every occurrence contributes
	positionScore := 0.0
	for i, w := range titleTokens {
		if keywordSet[w] {
			positionScore += 1 / float64(i+1)
		}
	}

	raw := base * phraseBonus * (1 + positionScore/float64(len(titleTokens)))
	final := raw / 1.5
	if final > 1 {
		final = 1.0
	}
	return final
}

// Percent renders a score the way the spreadsheet shows it: rounded to
// three decimals first, then expressed as a percentage.
func Percent(score float64) string {
	return "%" + strconv.FormatFloat(math.Round(score*1000)/10, 'f', -1, 64)
}

// Similarity is the secondary relevance metric, a Jaro-Winkler edit
// similarity over the normalized strings. Score ties are broken with
// it when picking a keyword's best match.
func Similarity(keyword, title string) float64 {
	return matchr.JaroWinkler(textutil.Normalize(keyword), textutil.Normalize(title), false)
}
