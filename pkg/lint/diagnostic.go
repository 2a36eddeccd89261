package lint

import (
	"github.com/a-h/templ/lsp/protocol"
	"github.com/lavigneer/sasslint-lsp/pkg/library"
	"github.com/lavigneer/sasslint-lsp/pkg/util"
)

const (
	Source         = "sass-lint"
	UnknownMessage = "Unknown error."
)

// MakeDiagnostic converts a linter message. Missing positions become the
// start of the document.
func MakeDiagnostic(msg library.Message) protocol.Diagnostic {
	var severity protocol.DiagnosticSeverity
	switch msg.Severity {
	case 1:
		severity = protocol.DiagnosticSeverityWarning
	case 2:
		severity = protocol.DiagnosticSeverityError
	default:
		severity = protocol.DiagnosticSeverityInformation
	}

	message := msg.Message
	if message == "" {
		message = UnknownMessage
	}

	d := protocol.Diagnostic{
		Severity: severity,
		Range:    util.PointRange(zeroBased(msg.Line), zeroBased(msg.Column)),
		Message:  message,
		Source:   Source,
	}
	if msg.RuleID != "" {
		d.Code = msg.RuleID
	}
	return d
}

func zeroBased(n int) uint32 {
	if n <= 0 {
		return 0
	}
	//nolint:gosec
	return uint32(n - 1)
}
