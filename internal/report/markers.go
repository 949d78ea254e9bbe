package report

import (
	"regexp"
	"strings"
)

var (
	// "Control Statistics" may carry a suffix such as "(Percentage)".
	t1Marker = regexp.MustCompile(`(?i)control\s+statistics`)
	t2Marker = regexp.MustCompile(`(?i)^\s*"?results"?\s*$`)

	adjustedFlag     = regexp.MustCompile(`(?i)\b(?:ajustada|aju)\b`)
	domainController = regexp.MustCompile(`(?i)domain\s+control+er`)
	clientLine       = regexp.MustCompile(`(?i)(?:cliente|client|customer)\s*[:\-]\s*(.+)`)
	subclientLine    = regexp.MustCompile(`(?i)(?:subcliente|subclient)\s*[:\-]\s*(.+)`)

	sectionStop = regexp.MustCompile(`(?i)^\s*"?(?:` +
		`summary|asset\s+tags|assets\b|policy\s+id\b|cis\s+benchmark|roles\b|ubica|` +
		`host\s+statistics(?:\s*\([^)]*\))?"?\s*(?:,|$))`)

	logNoise = regexp.MustCompile(`(?i)^\s*(?:` +
		`\[?(?:error|warn|warning|info|debug|trace)\]?(?:[\s:\]]|$)|` +
		`[\w.$]*exception\b|traceback\b|caused\s+by:|` +
		`at\s+[\w$.<>]+\(|file\s+"[^"]*",\s+line\s+\d+)`)
)

// requiredT2Columns holds the lowercase names of which a RESULTS header
// must carry at least one.
var requiredT2Columns = map[string]bool{
	"host ip":          true,
	"operating system": true,
	"control id":       true,
	"status":           true,
}

const (
	clientColumn          = "Cliente"
	osColumn              = "operating system"
	domainControllerLabel = "domain controller"
)

type tableKind int

const (
	kindT1 tableKind = iota + 1
	kindT2
)

func (k tableKind) String() string {
	if k == kindT1 {
		return "T1"
	}
	return "T2"
}

// markerKind classifies a line as the start of a table, or 0.
func markerKind(line string) tableKind {
	switch {
	case t1Marker.MatchString(line):
		return kindT1
	case t2Marker.MatchString(line):
		return kindT2
	}
	return 0
}

// isStopLine reports whether line ends the rows of the current block.
func isStopLine(line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}
	return sectionStop.MatchString(line) || logNoise.MatchString(line) || markerKind(line) != 0
}

// cleanCell trims whitespace and surrounding quotes from a header cell.
func cleanCell(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
}

func hasRequiredT2Column(header []string) bool {
	for _, h := range header {
		if requiredT2Columns[strings.ToLower(cleanCell(h))] {
			return true
		}
	}
	return false
}

// withDomainController appends the domain controller label once. Empty
// cells are left alone.
func withDomainController(v string) string {
	if strings.TrimSpace(v) == "" || strings.Contains(strings.ToLower(v), domainControllerLabel) {
		return v
	}
	return v + " " + domainControllerLabel
}
