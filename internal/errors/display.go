package errors

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// ColorDisabled reports whether NO_COLOR style variables ask for plain output
func ColorDisabled() bool {
	return os.Getenv("NO_COLOR") != "" || os.Getenv("RANKWATCH_NO_COLOR") != ""
}

// DisplayError writes an error with its guidance to w
func DisplayError(w io.Writer, err error, noColor bool) {
	color.NoColor = noColor || ColorDisabled()

	e, ok := As(err)
	if !ok {
		fmt.Fprintf(w, "%s %v\n", color.RedString("Error:"), err)
		return
	}

	colorFunc := kindStyle(e.Kind)

	header := e.Message
	if e.SourceID != "" {
		header = fmt.Sprintf("%s [%s]", e.Message, e.SourceID)
	}
	fmt.Fprintf(w, "\n%s\n", colorFunc(header))

	if e.Cause != "" {
		fmt.Fprintf(w, "   %s %s\n", color.YellowString("Cause:"), color.HiBlackString(e.Cause))
	}
	if e.Err != nil {
		fmt.Fprintf(w, "   %s %s\n", color.YellowString("Detail:"), color.HiBlackString(e.Err.Error()))
	}

	if len(e.Solutions) > 0 {
		fmt.Fprintf(w, "\n   %s\n", color.GreenString("Solutions:"))
		for i, solution := range e.Solutions {
			fmt.Fprintf(w, "   %s %s\n", color.HiBlackString(fmt.Sprintf("%d.", i+1)), solution)
		}
	}

	if e.Verify != "" {
		fmt.Fprintf(w, "\n   %s %s\n", color.BlueString("Verify:"), color.HiWhiteString(e.Verify))
	}
	if e.Help != "" {
		fmt.Fprintf(w, "   %s %s\n", color.MagentaString("Help:"), color.HiWhiteString(e.Help))
	}

	fmt.Fprintln(w)
}

func kindStyle(kind Kind) func(format string, a ...interface{}) string {
	switch kind {
	case KindConfiguration, KindSchemaMismatch:
		return color.YellowString
	case KindLock:
		return color.CyanString
	case KindStoreWrite, KindStoreUnavailable:
		return color.MagentaString
	default:
		return color.RedString
	}
}

// FormatPlain renders an error without color, for logs and CI output
func FormatPlain(err error, context map[string]string) string {
	var sb strings.Builder

	e, ok := As(err)
	if !ok {
		sb.WriteString(fmt.Sprintf("Error: %v\n", err))
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("Error: %s\n", e.Message))
	sb.WriteString(fmt.Sprintf("Kind: %s\n", e.Kind))
	if e.SourceID != "" {
		sb.WriteString(fmt.Sprintf("Source: %s\n", e.SourceID))
	}
	if e.Cause != "" {
		sb.WriteString(fmt.Sprintf("Cause: %s\n", e.Cause))
	}

	if len(context) > 0 {
		sb.WriteString("\nContext:\n")
		for k, v := range context {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, v))
		}
	}

	if len(e.Solutions) > 0 {
		sb.WriteString("\nSolutions:\n")
		for i, solution := range e.Solutions {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, solution))
		}
	}

	return sb.String()
}

// DisplayWarning shows a warning message
func DisplayWarning(w io.Writer, message string) {
	fmt.Fprintf(w, "Warning: %s\n", color.YellowString(message))
}

// DisplaySuccess shows a success message
func DisplaySuccess(w io.Writer, message string) {
	fmt.Fprintf(w, "Success: %s\n", color.GreenString(message))
}
