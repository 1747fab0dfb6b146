// Package render writes zotel CLI results as json, yaml or an aligned table.
//
// Without --format, a terminal gets a table and a pipe gets json.
// --no-color only changes the table header.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format is an output format.
type Format string

// Output formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))

// ParseFormat parses a --format value. The empty string is accepted and
// leaves the choice to NewRenderer.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	switch f {
	case "", FormatJSON, FormatTable, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
}

// Renderer writes values to one output stream.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer reads --format and --no-color and writes to stdout.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if isTerminal(os.Stdout) {
			format = FormatTable
		}
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), os.Stdout), nil
}

// NewRendererWithWriter builds a renderer over an arbitrary writer.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the selected output format.
func (r *Renderer) Format() Format { return r.format }

// Render writes data in the selected format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		v := indirect(reflect.ValueOf(data))
		if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
			return r.writeRows(v)
		}
		return r.writeFields(v)
	}
	return fmt.Errorf("unknown format: %s", r.format)
}

// writeRows prints one line per element under a shared header.
func (r *Renderer) writeRows(v reflect.Value) error {
	if v.Len() == 0 {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}

	cols := columns(indirect(v.Index(0)))
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols.names, "\t"))
	for i := range v.Len() {
		fmt.Fprintln(w, strings.Join(cols.cells(indirect(v.Index(i))), "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	// tabwriter has to measure the header before it is styled.
	header, body, _ := strings.Cut(buf.String(), "\n")
	if !r.noColor {
		header = headerStyle.Render(header)
	}
	_, err := fmt.Fprintf(r.out, "%s\n%s", header, body)
	return err
}

// writeFields prints a struct or map as "name:  value" lines.
func (r *Renderer) writeFields(v reflect.Value) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	switch v.Kind() {
	case reflect.Struct, reflect.Map:
		cols := columns(v)
		for i, cell := range cols.cells(v) {
			fmt.Fprintf(w, "%s:\t%s\n", cols.names[i], cell)
		}
	default:
		fmt.Fprintln(w, cell(v))
	}
	return w.Flush()
}

type columnSet struct {
	names []string
	// keys holds map keys in name order; nil for structs.
	keys []reflect.Value
}

func columns(v reflect.Value) columnSet {
	var cs columnSet
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			if f := t.Field(i); f.IsExported() {
				cs.names = append(cs.names, fieldName(f))
			}
		}
	case reflect.Map:
		cs.keys = v.MapKeys()
		sort.Slice(cs.keys, func(i, j int) bool {
			return fmt.Sprint(cs.keys[i].Interface()) < fmt.Sprint(cs.keys[j].Interface())
		})
		for _, k := range cs.keys {
			cs.names = append(cs.names, fmt.Sprint(k.Interface()))
		}
	}
	return cs
}

func (cs columnSet) cells(v reflect.Value) []string {
	out := make([]string, 0, len(cs.names))
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			if t.Field(i).IsExported() {
				out = append(out, cell(v.Field(i)))
			}
		}
	case reflect.Map:
		for _, k := range cs.keys {
			out = append(out, cell(v.MapIndex(k)))
		}
	}
	return out
}

func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return strings.ToLower(f.Name)
}

// cell formats one value for a table. Collections are summarized.
func cell(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}
	if t, ok := v.Interface().(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	}
	return fmt.Sprint(v.Interface())
}

// indirect follows pointers and interfaces; a nil yields the zero Value.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
