package blocking

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NoCompanyKey is the block shared by every record without a company.
const NoCompanyKey = "__no_company__"

// legalSuffixes lists common legal entity suffixes, case-folded.
var legalSuffixes = []string{
	" llc", " l.l.c.", " l.l.c",
	" inc", " inc.", " incorporated",
	" corp", " corp.", " corporation",
	" ltd", " ltd.", " limited",
	" lp", " l.p.", " l.p",
	" llp", " l.l.p.", " l.l.p",
	" pc", " p.c.", " p.c",
	" co", " co.",
	" plc", " p.l.c.",
	" gmbh", " ag", " sa", " bv",
	" pllc",
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	punctuation  = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", " and ",
		"-", " ",
	)
	folder = cases.Fold()
)

// Key returns the blocking key for a company value: Unicode-normalized,
// case-folded, with whitespace collapsed. Blank companies map to
// NoCompanyKey. With stripLegal, legal suffixes and punctuation are removed
// as well, so "Acme, Inc." and "ACME" share a block.
func Key(company string, stripLegal bool) string {
	k := norm.NFKC.String(company)
	k = folder.String(k)
	k = collapse(k)
	if k == "" {
		return NoCompanyKey
	}
	if !stripLegal {
		return k
	}

	// Strip a trailing comma first so "acme, inc." matches " inc.".
	k = strings.Replace(k, ",", "", -1)
	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(k, suffix) {
			k = strings.TrimSuffix(k, suffix)
			break
		}
	}
	k = collapse(punctuation.Replace(k))
	if k == "" {
		return NoCompanyKey
	}
	return k
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
