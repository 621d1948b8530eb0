// Package credits resolves how many credits a subject carries from the code embedded in its name.
package credits

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/assert"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/WillyEverGreen/CRCE-calc/lib/configutil"
	"github.com/antzucaro/matchr"
	"github.com/titanous/json5"
)

const report_credits_lookup = "credits.lookup"

//go:embed credits.json5
var defaultTable []byte

type Pattern struct {
	Match   string `json:"match"`
	Credits int    `json:"credits"`
}

type Table struct {
	Default  int            `json:"default"`
	Codes    map[string]int `json:"codes"`
	Patterns []Pattern      `json:"patterns"`
}

type compiledPattern struct {
	re      *regexp.Regexp
	credits int
}

type Lookup struct {
	def      int
	codes    map[string]int
	patterns []compiledPattern
	tel      telemetry.API
}

func New(table Table, tel telemetry.API) (*Lookup, error) {
	assert.NotNil(tel)

	l := &Lookup{
		def:   table.Default,
		codes: make(map[string]int, len(table.Codes)),
		tel:   telemetry.NewScopedAPI("credits", tel),
	}
	for code, credits := range table.Codes {
		l.codes[normalizeCode(code)] = credits
	}
	for _, p := range table.Patterns {
		re, err := regexp.Compile(p.Match)
		if err != nil {
			return nil, fmt.Errorf("credits: compile pattern %q: %w", p.Match, err)
		}
		l.patterns = append(l.patterns, compiledPattern{re: re, credits: p.Credits})
	}
	return l, nil
}

// DefaultTable is the built-in credit table.
func DefaultTable() (Table, error) {
	var table Table
	err := json5.Unmarshal(defaultTable, &table)
	return table, err
}

// Load reads a credit table from a json5 file (plus its .local override) layered over the
// built-in table, so a file only needs to list the codes it adds or changes.
func Load(path string, tel telemetry.API) (*Lookup, error) {
	table, err := DefaultTable()
	if err != nil {
		return nil, err
	}
	if path != "" {
		table, err = configutil.ReadWithDefaults(path, table)
		if err != nil {
			return nil, fmt.Errorf("credits: read %s: %w", path, err)
		}
	}
	return New(table, tel)
}

var codeRegex = regexp.MustCompile(`\((.*?)\)`)
var spaceRegex = regexp.MustCompile(`\s`)

func normalizeCode(code string) string {
	return strings.ToUpper(spaceRegex.ReplaceAllString(code, ""))
}

// SubjectCode extracts the code inside the first pair of parentheses of a subject name,
// "" when there is none.
func SubjectCode(subjectName string) string {
	match := codeRegex.FindStringSubmatch(subjectName)
	if match == nil {
		return ""
	}
	return normalizeCode(match[1])
}

// Credits returns the credits of a subject, falling back to the table default for
// names without a recognised code.
func (l *Lookup) Credits(subjectName string) int {
	code := SubjectCode(subjectName)
	if code == "" {
		return l.def
	}
	if credits, ok := l.codes[code]; ok {
		return credits
	}
	for _, p := range l.patterns {
		if p.re.MatchString(code) {
			return p.credits
		}
	}

	closest, score := l.closest(code)
	l.tel.ReportWarning(report_credits_lookup, "unknown subject code, using default", code, closest, score)
	return l.def
}

// closest finds the known code most similar to code, it is only used to make the
// unknown-code warning actionable.
func (l *Lookup) closest(code string) (string, float64) {
	best := ""
	bestScore := 0.0
	for known := range l.codes {
		score := matchr.JaroWinkler(code, known, false)
		if score > bestScore || (score == bestScore && known < best) {
			best = known
			bestScore = score
		}
	}
	return best, bestScore
}
