package gcode

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Parser reads one block per non-empty line. Text after a ';' is a comment.
type Parser struct {
	br   *bufio.Reader
	line int
	text string
}

func NewParser(r io.Reader) *Parser {
	if br, ok := r.(*bufio.Reader); ok {
		return &Parser{br: br}
	}

	return &Parser{br: bufio.NewReader(r)}
}

var (
	rx      = regexp.MustCompile(`^([A-Z][0-9.\-]+)+$`)
	rxSplit = regexp.MustCompile(`[A-Z][0-9.\-]+`)
)

// Line returns the line number of the last block read.
func (p *Parser) Line() int { return p.line }

// Text returns the last block read as it appeared in the source,
// without comments or surrounding whitespace.
func (p *Parser) Text() string { return p.text }

func (p *Parser) Read() (ln Block, err error) {
	for {
		s, err := p.br.ReadString('\n')
		if err == io.EOF && s != "" {
			err = nil
		}
		if err != nil {
			return nil, err
		}
		p.line++

		s = strings.SplitN(s, ";", 2)[0]
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		p.text = s

		s = strings.Replace(s, " ", "", -1)
		s = strings.ToUpper(s)

		if !rx.MatchString(s) {
			return nil, fmt.Errorf("line %d: invalid or unhandled line: %s", p.line, p.text)
		}

		codes := rxSplit.FindAllString(s, -1)
		res := make(Block, len(codes))

		for i, c := range codes {
			_, err = fmt.Sscanf(c, "%c%f", &res[i].W, &res[i].Arg)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", p.line, err)
			}
		}
		err = res.Validate()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", p.line, err)
		}

		return res, nil
	}
}
