// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package emulator

import (
	"fmt"
	"regexp"
	"strings"
)

const sourceName = "<kernel>"

// kernelDecl is a kernel declared in a source.
type kernelDecl struct {
	name    string
	numArgs int
}

type diagnostic struct {
	line, col int
	msg       string
}

func (d diagnostic) String() string {
	return fmt.Sprintf("%s:%d:%d: error: %s", sourceName, d.line, d.col, d.msg)
}

// position returns the line and column of a byte offset.
func position(src string, offset int) (int, int) {
	line := 1 + strings.Count(src[:offset], "\n")
	col := offset - strings.LastIndex(src[:offset], "\n")
	return line, col
}

// stripSource replaces comments and literals by spaces, keeping line and column positions.
func stripSource(src string) (string, []diagnostic) {
	out := []byte(src)
	var diags []diagnostic
	blank := func(from, to int) {
		for i := from; i < to; i++ {
			if out[i] != '\n' {
				out[i] = ' '
			}
		}
	}
	report := func(offset int, msg string) {
		line, col := position(src, offset)
		diags = append(diags, diagnostic{line, col, msg})
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case strings.HasPrefix(src[i:], "//"):
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src) - i
			}
			blank(i, i+end)
			i += end - 1
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				report(i, "unterminated /* comment")
				blank(i, len(src))
				return string(out), diags
			}
			blank(i, i+2+end+2)
			i += 2 + end + 1
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(src) && src[j] != c && src[j] != '\n' {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(src) || src[j] != c {
				report(i, "missing terminating "+string(c)+" character")
				blank(i, min(j, len(src)))
				i = j
				continue
			}
			blank(i, j+1)
			i = j
		}
	}
	return string(out), diags
}

var closing = map[byte]byte{'(': ')', '[': ']', '{': '}'}

// checkDelimiters reports unbalanced parentheses, brackets and braces.
func checkDelimiters(src string) []diagnostic {
	var stack []int
	var diags []diagnostic
	report := func(offset int, msg string) {
		line, col := position(src, offset)
		diags = append(diags, diagnostic{line, col, msg})
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch c {
		case '(', '[', '{':
			stack = append(stack, i)
		case ')', ']', '}':
			if len(stack) == 0 {
				report(i, fmt.Sprintf("extraneous closing '%c'", c))
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if want := closing[src[top]]; want != c {
				line, col := position(src, top)
				report(i, fmt.Sprintf("expected '%c' to match '%c' at %d:%d", want, src[top], line, col))
			}
		}
	}
	for _, top := range stack {
		report(top, fmt.Sprintf("expected '%c' at end of input to match this '%c'", closing[src[top]], src[top]))
	}
	return diags
}

var kernelDeclRE = regexp.MustCompile(`(?:__kernel|\bkernel)\s+void\s+([A-Za-z_]\w*)\s*\(`)

// kernelDecls returns the kernels declared in a stripped source.
func kernelDecls(src string) []kernelDecl {
	var decls []kernelDecl
	for _, match := range kernelDeclRE.FindAllStringSubmatchIndex(src, -1) {
		name := src[match[2]:match[3]]
		decls = append(decls, kernelDecl{name: name, numArgs: countParams(src[match[1]:])})
	}
	return decls
}

// countParams counts the parameters of a list starting after its opening parenthesis.
func countParams(src string) int {
	depth, commas := 0, 0
	for i := 0; i < len(src); i++ {
		switch src[i] {
		case '(', '[', '{':
			depth++
		case ']', '}':
			depth--
		case ')':
			if depth == 0 {
				params := strings.TrimSpace(src[:i])
				if params == "" || params == "void" {
					return 0
				}
				return commas + 1
			}
			depth--
		case ',':
			if depth == 0 {
				commas++
			}
		}
	}
	return commas + 1
}

// compile checks a source and returns its kernel declarations and a build log.
func compile(src string) ([]kernelDecl, string, bool) {
	stripped, diags := stripSource(src)
	diags = append(diags, checkDelimiters(stripped)...)
	decls := kernelDecls(stripped)
	if len(diags) == 0 && len(decls) == 0 {
		diags = append(diags, diagnostic{1, 1, "no kernel function declared"})
	}
	if len(diags) == 0 {
		return decls, "", true
	}
	lines := make([]string, len(diags))
	for i, d := range diags {
		lines[i] = d.String()
	}
	log := strings.Join(lines, "\n")
	log += fmt.Sprintf("\n%d error%s generated.\n", len(diags), plural(len(diags)))
	return nil, log, false
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
