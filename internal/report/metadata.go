package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// metadataLines is how many leading lines are inspected for file-level flags.
const metadataLines = 200

// Metadata holds the file-level facts found near the top of a report.
type Metadata struct {
	Adjusted         bool
	DomainController bool
	Client           string
	Subclient        string
}

// EffectiveClient returns the label written to the Cliente column of every
// row from the file: the sub-client, else the client, else def.
func (m Metadata) EffectiveClient(def string) string {
	switch {
	case m.Subclient != "":
		return m.Subclient
	case m.Client != "":
		return m.Client
	}
	return def
}

// ReadMetadata scans the head of the report at path.
func ReadMetadata(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	in, _ := wrapInput(f)
	return detectMetadata(in)
}

func detectMetadata(r io.Reader) (Metadata, error) {
	var md Metadata
	br := bufio.NewReader(r)

	for i := 0; i < metadataLines; i++ {
		line, err := br.ReadString('\n')
		if line != "" {
			md.observe(line)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return md, fmt.Errorf("read report head: %w", err)
		}
	}
	return md, nil
}

func (m *Metadata) observe(line string) {
	if !m.Adjusted && adjustedFlag.MatchString(line) {
		m.Adjusted = true
	}
	if !m.DomainController && domainController.MatchString(line) {
		m.DomainController = true
	}
	if m.Client == "" {
		if sm := clientLine.FindStringSubmatch(line); sm != nil {
			m.Client = labelValue(sm[1])
		}
	}
	if m.Subclient == "" {
		if sm := subclientLine.FindStringSubmatch(line); sm != nil {
			m.Subclient = labelValue(sm[1])
		}
	}
}

// labelValue strips the CSV padding exports add around label lines,
// e.g. `"Cliente: ACME",,,`.
func labelValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ", \t")
	return cleanCell(s)
}
