package scan

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Mapper holds the naming convention linking the three file kinds:
//
//	source:       <stem><SourceExt>            e.g. run7_evt12.root
//	intermediate: <stem><IntermediateSuffix>   e.g. run7_evt12_lite.h5
//	final:        <stem><FinalSuffix>          e.g. run7_evt12_flat.root
type Mapper struct {
	IntermediateSuffix string
	SourceExt          string
	FinalSuffix        string
}

// NewMapper validates and returns a Mapper.
func NewMapper(intermediateSuffix, sourceExt, finalSuffix string) (*Mapper, error) {
	if intermediateSuffix == "" {
		return nil, eris.New("scan: intermediate suffix must not be empty")
	}
	if finalSuffix == "" {
		return nil, eris.New("scan: final suffix must not be empty")
	}
	if finalSuffix == intermediateSuffix {
		return nil, eris.Errorf("scan: final suffix %q would overwrite intermediate files", finalSuffix)
	}
	return &Mapper{
		IntermediateSuffix: intermediateSuffix,
		SourceExt:          sourceExt,
		FinalSuffix:        finalSuffix,
	}, nil
}

// Stem strips the intermediate suffix. ok is false when name does not carry
// the suffix or nothing would remain.
func (m *Mapper) Stem(name string) (stem string, ok bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, m.IntermediateSuffix) || len(base) == len(m.IntermediateSuffix) {
		return "", false
	}
	return strings.TrimSuffix(base, m.IntermediateSuffix), true
}

// SourceName derives the expected source row key from an intermediate name.
func (m *Mapper) SourceName(intermediate string) (string, error) {
	stem, ok := m.Stem(intermediate)
	if !ok {
		return "", eris.Errorf("scan: %s does not end with %s", intermediate, m.IntermediateSuffix)
	}
	return stem + m.SourceExt, nil
}

// FinalPath derives the final artifact path in dstDir from an intermediate name.
func (m *Mapper) FinalPath(dstDir, intermediate string) (string, error) {
	stem, ok := m.Stem(intermediate)
	if !ok {
		return "", eris.Errorf("scan: %s does not end with %s", intermediate, m.IntermediateSuffix)
	}
	return filepath.Join(dstDir, stem+m.FinalSuffix), nil
}
