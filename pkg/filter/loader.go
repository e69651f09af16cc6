package filter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RuleWidth is the number of integers in one rule record:
// sip_low sip_high dip_low dip_high sport_low sport_high dport_low dport_high proto_low proto_high
const RuleWidth = 2 * NumFields

// LineError 记录读取中止的位置
// 读取在第一条格式错误的记录处停止, 之前解析的记录仍然有效
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// ScanRecords reads whitespace separated records of exactly width unsigned
// 32-bit integers, one per line, and hands each to fn. Blank lines are
// skipped. The first malformed line stops the scan with a *LineError.
func ScanRecords(r io.Reader, width int, fn func(vals []uint32)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	vals := make([]uint32, width)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		tokens := strings.Fields(text)
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) != width {
			return &LineError{Line: line, Text: text,
				Err: fmt.Errorf("expected %d values, got %d", width, len(tokens))}
		}
		for i, tok := range tokens {
			v, err := strconv.ParseUint(tok, 10, 32)
			if err != nil {
				return &LineError{Line: line, Text: text, Err: err}
			}
			vals[i] = uint32(v)
		}
		fn(vals)
	}
	if err := sc.Err(); err != nil {
		return errors.Wrapf(err, "read line %d", line+1)
	}
	return nil
}

// ReadRules 读取规则, 按读取顺序分配优先级 0, 1, 2...
// 遇到格式错误的行时返回已解析的规则和 *LineError
func ReadRules(r io.Reader) ([]Rule, error) {
	var rules []Rule
	err := ScanRecords(r, RuleWidth, func(vals []uint32) {
		var rule Rule
		for f := 0; f < NumFields; f++ {
			rule.Fields[f] = Range{Low: vals[2*f], High: vals[2*f+1]}
		}
		rule.Priority = uint32(len(rules))
		rules = append(rules, rule)
	})
	return rules, err
}

// LoadRules reads a rule file and freezes it into a RuleSet. When the file
// contains a malformed line, the RuleSet built from the records before it
// is returned together with the *LineError.
func LoadRules(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open rule file")
	}
	defer f.Close()

	rules, readErr := ReadRules(f)
	var lineErr *LineError
	if readErr != nil && !errors.As(readErr, &lineErr) {
		return nil, readErr
	}

	set, err := NewRuleSet(rules)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	if lineErr != nil {
		return set, lineErr
	}
	return set, nil
}
