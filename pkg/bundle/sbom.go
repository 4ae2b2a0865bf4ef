package bundle

import (
	"bytes"
	"fmt"
	"regexp"

	cyclonedx "github.com/CycloneDX/cyclonedx-go"
)

var declarationRe = regexp.MustCompile(`(?m)^\s*(listener|route|upstream|agent)\s+"([^"]+)"`)

// buildSBOM extracts listener/route/upstream/agent declarations from a
// config source and renders them as a CycloneDX 1.5 JSON document
// (spec.md §4.3 step f). Each declaration becomes one SBOM component,
// typed by its declaration kind.
func buildSBOM(configSource string) ([]byte, error) {
	bom := cyclonedx.NewBOM()
	bom.SpecVersion = cyclonedx.SpecVersion1_5
	bom.Version = 1

	components := make([]cyclonedx.Component, 0)
	for _, m := range declarationRe.FindAllStringSubmatch(configSource, -1) {
		kind, name := m[1], m[2]
		components = append(components, cyclonedx.Component{
			Type:    componentType(kind),
			Name:    name,
			Version: kind,
		})
	}
	bom.Components = &components

	var buf bytes.Buffer
	enc := cyclonedx.NewBOMEncoder(&buf, cyclonedx.BOMFileFormatJSON)
	if err := enc.Encode(bom); err != nil {
		return nil, fmt.Errorf("encoding SBOM: %w", err)
	}
	return buf.Bytes(), nil
}

func componentType(kind string) cyclonedx.ComponentType {
	switch kind {
	case "agent":
		return cyclonedx.ComponentTypeApplication
	case "upstream":
		return cyclonedx.ComponentTypeService
	default:
		return cyclonedx.ComponentTypeData
	}
}
