package scanner

import (
	"bufio"
	"bytes"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// gcc style: file:line[:col]: level: message [rule]
var lineRe = regexp.MustCompile(`^(.+?):(\d+)(?::\d+)?:\s*([A-Za-z]+):\s*(.*?)(?:\s+\[([^\]]+)\])?\s*$`)

func decodeLine(output []byte) ([]types.Finding, error) {
	var findings []types.Finding
	nonEmpty := 0

	sc := bufio.NewScanner(bytes.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		nonEmpty++

		m := lineRe.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		line, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		findings = append(findings, types.Finding{
			File:     m[1],
			Line:     line,
			Severity: types.ParseSeverity(m[3]),
			Message:  m[4],
			Rule:     m[5],
			Category: Classify(m[5], m[4]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if nonEmpty > 0 && len(findings) == 0 {
		return nil, errors.New("no diagnostic lines recognized")
	}
	return findings, nil
}
