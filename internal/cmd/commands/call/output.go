package call

import (
	"fmt"
	"os"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/mattn/go-isatty"
)

// writeJSON prints the rendered JSON document, syntax-highlighted when
// the output is a terminal.
func writeJSON(f *os.File, document, theme string) error {
	if theme == "" {
		theme = "monokai"
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		if err := quick.Highlight(f, document+"\n", "json", "terminal256", theme); err != nil {
			return err
		}
		return nil
	}
	_, err := fmt.Fprintln(f, document)
	return err
}
