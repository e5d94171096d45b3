package homing

import (
	"fmt"
	"log"

	"github.com/mastercactapus/homecnc/coord"
)

// Diagnostic describes why a homing cycle failed.
type Diagnostic struct {
	Axis    coord.Axis
	Code    Code
	Message string
}

// Reporter receives homing diagnostics.
type Reporter interface {
	Report(Diagnostic)
}

// ReporterFunc adapts a function to a Reporter.
type ReporterFunc func(Diagnostic)

func (fn ReporterFunc) Report(d Diagnostic) { fn(d) }

// LogReporter writes diagnostics to the standard logger.
type LogReporter struct{}

func (LogReporter) Report(d Diagnostic) {
	log.Printf("ERROR: homing: [%d] %s", int(CodeCycleFailed), d.Message)
}

func newDiagnostic(axis coord.Axis, code Code, cause error) Diagnostic {
	d := Diagnostic{Axis: axis, Code: code}
	switch {
	case code == CodeBadOrNoAxis:
		d.Message = "Homing error - Bad or no axis(es) specified"
	case !axis.Valid() && cause != nil:
		d.Message = "Homing error - " + cause.Error()
	case !axis.Valid():
		d.Message = code.String()
	case cause != nil:
		d.Message = fmt.Sprintf("%c axis %s", axis.Char(), cause)
	default:
		d.Message = fmt.Sprintf("%c axis %s", axis.Char(), code)
	}
	return d
}
