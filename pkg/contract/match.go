package contract

import (
	"regexp"
	"strings"
)

// SubUnit is a work unit under a project. Its code starts with the number of
// the contract it belongs to, e.g. "OH4014 - Site A".
type SubUnit struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// SubUnitFromRecord maps a directory record onto a SubUnit.
func SubUnitFromRecord(r Record) SubUnit {
	return SubUnit{ID: r.ID(), Code: r.String("code"), Name: r.Name()}
}

var contractPrefixPattern = regexp.MustCompile(`^([A-Za-z]+\d+)`)

// ContractPrefix returns the leading letters-then-digits run of a sub-unit
// code, or "" when the code does not start that way.
func ContractPrefix(code string) string {
	m := contractPrefixPattern.FindStringSubmatch(strings.TrimSpace(code))
	if m == nil {
		return ""
	}
	return m[1]
}

// MatchContract finds the contract a sub-unit prefix belongs to. Contract
// numbers are compared first (equal, or either one a prefix of the other);
// titles and numbers containing the prefix are the fallback. List order
// breaks ties.
func MatchContract(contracts []Record, prefix string) (Record, bool) {
	p := strings.ToUpper(strings.TrimSpace(prefix))
	if p == "" {
		return Record{}, false
	}

	for _, c := range contracts {
		num := strings.ToUpper(c.Number())
		if num == "" {
			continue
		}
		if num == p || strings.HasPrefix(num, p) || strings.HasPrefix(p, num) {
			return c, true
		}
	}

	for _, c := range contracts {
		if strings.Contains(strings.ToUpper(c.Title()), p) || strings.Contains(strings.ToUpper(c.Number()), p) {
			return c, true
		}
	}
	return Record{}, false
}
