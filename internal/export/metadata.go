package export

import (
	"strings"

	"climatedata-api/internal/arrays"
)

// Metadata renders the attribute sidecar of ds: global attributes, then
// each coordinate, then each data variable.
func Metadata(ds *arrays.Dataset) string {
	var b strings.Builder

	b.WriteString("# Global attributes")
	b.WriteString(formatAttrs("", ds.Attrs, ""))
	b.WriteString("\n#\n")

	b.WriteString("# Coordinates")
	for _, c := range ds.Coords {
		b.WriteString(formatAttrs(c.Name, c.Attrs, "  "))
	}
	b.WriteString("\n#\n")

	b.WriteString("# Data variables")
	for _, v := range ds.Vars {
		b.WriteString(formatAttrs(v.Name, v.Attrs, "  "))
	}
	b.WriteString("\n#\n")
	return b.String()
}

// formatAttrs writes "name" then one "key:: value" line per attribute, each
// line prefixed by "# " and tab. Multi-line values stay inside the comment.
func formatAttrs(name string, attrs *arrays.Attributes, tab string) string {
	const comment = "# "
	lines := []string{"", name}
	for _, key := range attrs.Keys() {
		val, _ := attrs.Get(key)
		text := strings.ReplaceAll(arrays.FormatValue(val), "\n", "\n"+comment+tab+"  ")
		lines = append(lines, tab+key+":: "+text)
	}
	return strings.Join(lines, "\n"+comment+tab)
}
