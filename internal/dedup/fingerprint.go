package dedup

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/catalyst-agent/backend/internal/models"
)

// Fingerprinter derives a deterministic event fingerprint from a
// CatalystItem. Two reports of the same real-world event from different
// sources should collapse to the same digest; two distinct events that
// happen to share a ticker should not. The precision/recall tradeoff is
// tunable via MaxKeyTerms and MinTermLength.
type Fingerprinter struct {
	maxKeyTerms   int
	minTermLength int
}

func NewFingerprinter(maxKeyTerms, minTermLength int) *Fingerprinter {
	if maxKeyTerms <= 0 {
		maxKeyTerms = 12
	}
	if minTermLength <= 0 {
		minTermLength = 3
	}
	return &Fingerprinter{
		maxKeyTerms:   maxKeyTerms,
		minTermLength: minTermLength,
	}
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9 ]+`)
)

// stopwords covers English function words plus the announcement verbs
// and headline boilerplate that vary between sources reporting the same
// event ("wins FDA approval" vs "FDA Approval Granted").
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "into": {},
	"its": {}, "has": {}, "have": {}, "had": {}, "will": {}, "are": {},
	"was": {}, "were": {}, "been": {}, "being": {}, "this": {}, "that": {},
	"after": {}, "before": {}, "over": {}, "under": {}, "about": {},
	"inc": {}, "corp": {}, "ltd": {}, "llc": {}, "plc": {}, "co": {},
	"company": {}, "group": {}, "holdings": {},
	"announces": {}, "announced": {}, "announcement": {},
	"reports": {}, "reported": {}, "says": {}, "said": {},
	"wins": {}, "won": {}, "granted": {}, "grants": {}, "gets": {},
	"receives": {}, "received": {}, "secures": {}, "secured": {},
	"update": {}, "updates": {}, "news": {}, "press": {}, "release": {},
}

// Fingerprint computes the event fingerprint for an item. The digest is
// a pure function of the normalized projection: ticker plus a sorted,
// truncated set of key terms, so processing order never changes the
// result.
func (f *Fingerprinter) Fingerprint(item models.CatalystItem) string {
	terms := f.keyTerms(item.Title)
	if len(terms) < 3 {
		terms = mergeTerms(terms, f.keyTerms(item.BodyExcerpt))
	}

	sort.Strings(terms)
	if len(terms) > f.maxKeyTerms {
		terms = terms[:f.maxKeyTerms]
	}

	ticker := strings.ToUpper(strings.TrimSpace(item.Ticker))
	projection := ticker + "|" + strings.Join(terms, " ")

	digest := sha256.Sum256([]byte(projection))
	return fmt.Sprintf("%x", digest)
}

// keyTerms normalizes free text into a deduplicated term set: HTML
// stripped, case-folded, punctuation removed, whitespace collapsed,
// stopwords and short tokens dropped.
func (f *Fingerprinter) keyTerms(text string) []string {
	if text == "" {
		return nil
	}

	text = stripHTML(text)
	text = strings.ToLower(text)
	text = nonAlnumRe.ReplaceAllString(text, " ")
	text = whitespaceRe.ReplaceAllString(text, " ")

	seen := make(map[string]struct{})
	var terms []string
	for _, tok := range strings.Fields(text) {
		if len(tok) < f.minTermLength {
			continue
		}
		if _, ok := stopwords[tok]; ok {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, tok)
	}

	return terms
}

func stripHTML(text string) string {
	if !strings.Contains(text, "<") {
		return text
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return text
	}

	doc.Find("script, style").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	return doc.Text()
}

func mergeTerms(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range a {
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range b {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
