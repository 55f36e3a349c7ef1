package tools

import (
	"fmt"
	"strings"

	"github.com/myleshyson/lsprotocol-go/protocol"
)

// maxListedItems caps list-shaped tool output so a noisy server cannot blow
// up the agent's context.
const maxListedItems = 50

func symbolKindToString(kind protocol.SymbolKind) string {
	switch kind {
	case protocol.SymbolKindFile:
		return "file"
	case protocol.SymbolKindModule:
		return "module"
	case protocol.SymbolKindNamespace:
		return "namespace"
	case protocol.SymbolKindPackage:
		return "package"
	case protocol.SymbolKindClass:
		return "class"
	case protocol.SymbolKindMethod:
		return "method"
	case protocol.SymbolKindProperty:
		return "property"
	case protocol.SymbolKindField:
		return "field"
	case protocol.SymbolKindConstructor:
		return "constructor"
	case protocol.SymbolKindEnum:
		return "enum"
	case protocol.SymbolKindInterface:
		return "interface"
	case protocol.SymbolKindFunction:
		return "function"
	case protocol.SymbolKindVariable:
		return "variable"
	case protocol.SymbolKindConstant:
		return "constant"
	case protocol.SymbolKindStruct:
		return "struct"
	case protocol.SymbolKindEnumMember:
		return "enum member"
	case protocol.SymbolKindTypeParameter:
		return "type parameter"
	case protocol.SymbolKindOperator:
		return "operator"
	case protocol.SymbolKindEvent:
		return "event"
	case protocol.SymbolKindString:
		return "string"
	case protocol.SymbolKindNumber:
		return "number"
	case protocol.SymbolKindBoolean:
		return "boolean"
	case protocol.SymbolKindArray:
		return "array"
	case protocol.SymbolKindObject:
		return "object"
	case protocol.SymbolKindKey:
		return "key"
	case protocol.SymbolKindNull:
		return "null"
	default:
		return fmt.Sprintf("unknown(%d)", kind)
	}
}

func severityToString(severity *protocol.DiagnosticSeverity) string {
	if severity == nil {
		return "unknown"
	}
	switch *severity {
	case protocol.DiagnosticSeverityError:
		return "error"
	case protocol.DiagnosticSeverityWarning:
		return "warning"
	case protocol.DiagnosticSeverityInformation:
		return "info"
	case protocol.DiagnosticSeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// formatHoverContent flattens the hover contents union into plain text.
func formatHoverContent(contents protocol.Or3[protocol.MarkupContent, protocol.MarkedString, []protocol.MarkedString]) string {
	switch v := contents.Value.(type) {
	case protocol.MarkupContent:
		return v.Value
	case string:
		return v
	case []any:
		var result strings.Builder
		for i, item := range v {
			if i > 0 {
				result.WriteString("\n---\n")
			}
			switch it := item.(type) {
			case string:
				result.WriteString(it)
			case protocol.MarkupContent:
				result.WriteString(it.Value)
			default:
				fmt.Fprintf(&result, "%v", it)
			}
		}
		return result.String()
	default:
		return fmt.Sprintf("%v", contents.Value)
	}
}

// formatLocation renders a location as path:line:column with a 1-based line
// for display.
func formatLocation(loc protocol.Location) string {
	path := strings.TrimPrefix(string(loc.Uri), "file://")
	return fmt.Sprintf("%s:%d:%d", path, loc.Range.Start.Line+1, loc.Range.Start.Character)
}

func formatLocations(header string, locations []protocol.Location) string {
	if len(locations) == 0 {
		return "No " + header + " found"
	}

	var result strings.Builder
	fmt.Fprintf(&result, "Found %d %s:\n", len(locations), header)
	for i, loc := range locations {
		if i >= maxListedItems {
			fmt.Fprintf(&result, "... and %d more\n", len(locations)-maxListedItems)
			break
		}
		fmt.Fprintf(&result, "%d. %s\n", i+1, formatLocation(loc))
	}
	return result.String()
}

func formatDiagnostics(path string, diagnostics []protocol.Diagnostic) string {
	if len(diagnostics) == 0 {
		return "No diagnostics for " + path
	}

	var result strings.Builder
	fmt.Fprintf(&result, "%d diagnostics for %s:\n", len(diagnostics), path)
	for i, diag := range diagnostics {
		if i >= maxListedItems {
			fmt.Fprintf(&result, "... and %d more\n", len(diagnostics)-maxListedItems)
			break
		}
		fmt.Fprintf(&result, "%d. [%s] line %d: %s", i+1,
			severityToString(diag.Severity), diag.Range.Start.Line+1, diag.Message)
		if diag.Source != "" {
			fmt.Fprintf(&result, " (%s)", diag.Source)
		}
		result.WriteString("\n")
	}
	return result.String()
}

// formatDocumentSymbols renders the symbol tree with indentation.
func formatDocumentSymbols(symbols []protocol.DocumentSymbol) string {
	if len(symbols) == 0 {
		return "No symbols found"
	}

	var result strings.Builder
	count := 0
	var write func(symbols []protocol.DocumentSymbol, depth int)
	write = func(symbols []protocol.DocumentSymbol, depth int) {
		for _, sym := range symbols {
			if count >= maxListedItems {
				return
			}
			count++
			fmt.Fprintf(&result, "%s%s (%s) line %d\n",
				strings.Repeat("  ", depth), sym.Name, symbolKindToString(sym.Kind),
				sym.Range.Start.Line+1)
			if len(sym.Children) > 0 {
				write(sym.Children, depth+1)
			}
		}
	}
	write(symbols, 0)
	return result.String()
}

// formatWorkspaceEdit renders a rename preview: per file, each edit's range
// and replacement text. Nothing is applied.
func formatWorkspaceEdit(edit *protocol.WorkspaceEdit) string {
	if edit == nil {
		return "No edits"
	}

	var result strings.Builder
	total := 0

	writeEdits := func(uri protocol.DocumentUri, edits []protocol.TextEdit) {
		path := strings.TrimPrefix(string(uri), "file://")
		fmt.Fprintf(&result, "%s (%d edits):\n", path, len(edits))
		for _, te := range edits {
			if total >= maxListedItems {
				return
			}
			total++
			fmt.Fprintf(&result, "  line %d:%d-%d:%d -> %q\n",
				te.Range.Start.Line+1, te.Range.Start.Character,
				te.Range.End.Line+1, te.Range.End.Character, te.NewText)
		}
	}

	for uri, edits := range edit.Changes {
		writeEdits(uri, edits)
	}

	for _, docChange := range edit.DocumentChanges {
		textDocEdit, ok := docChange.Value.(protocol.TextDocumentEdit)
		if !ok {
			fmt.Fprintf(&result, "unsupported document change: %T\n", docChange.Value)
			continue
		}
		var edits []protocol.TextEdit
		for _, e := range textDocEdit.Edits {
			if te, ok := e.Value.(protocol.TextEdit); ok {
				edits = append(edits, te)
			}
		}
		writeEdits(textDocEdit.TextDocument.Uri, edits)
	}

	if result.Len() == 0 {
		return "No edits"
	}
	return result.String()
}
