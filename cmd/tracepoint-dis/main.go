// Command tracepoint-dis disassembles dumped method bodies. It reads raw
// instruction bytes from a file or stdin, either binary or hex text, and
// prints the decoded instruction table with branch targets marked.
//
// Usage:
//
//	tracepoint-dis [-format modern|legacy] [-hex] [file]
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/deepnoodle-ai/tracepoint/dis"
	"github.com/deepnoodle-ai/tracepoint/op"
)

func main() {
	formatName := flag.String("format", "modern", "bytecode format: modern or legacy")
	hexInput := flag.Bool("hex", false, "treat input as hex text rather than raw bytes")
	flag.Parse()

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}

	if err := run(*formatName, *hexInput, flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, "tracepoint-dis:", err)
		os.Exit(1)
	}
}

func run(formatName string, hexInput bool, path string) error {
	format, err := parseFormat(formatName)
	if err != nil {
		return err
	}
	code, err := readInput(path, hexInput)
	if err != nil {
		return err
	}
	if len(code) == 0 {
		return errors.New("no input bytes")
	}

	instructions, err := dis.Disassemble(format, code, nil)
	if err != nil {
		return err
	}
	dis.Print(instructions, os.Stdout)
	return nil
}

func parseFormat(name string) (op.Format, error) {
	switch name {
	case "modern":
		return op.FormatModern, nil
	case "legacy":
		return op.FormatLegacy, nil
	default:
		return 0, fmt.Errorf("unknown format %q", name)
	}
}

func readInput(path string, hexInput bool) ([]byte, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if !hexInput {
		return data, nil
	}
	return decodeHex(string(data))
}

// decodeHex accepts hex text with arbitrary whitespace and optional 0x
// prefixes, the shapes method dumps usually arrive in.
func decodeHex(s string) ([]byte, error) {
	cleaned := strings.NewReplacer("0x", "", ",", " ").Replace(s)
	cleaned = strings.Join(strings.Fields(cleaned), "")
	return hex.DecodeString(cleaned)
}
