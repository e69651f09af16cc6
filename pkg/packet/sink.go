package packet

import (
	"bufio"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"hypersplit/pkg/filter"
)

// WriteResults writes one matched rule id per line, -1 for no match, in
// packet order.
func WriteResults(w io.Writer, results []filter.RuleID) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 16)
	for _, id := range results {
		buf = strconv.AppendInt(buf[:0], int64(id), 10)
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return errors.Wrap(err, "write result")
		}
	}
	return errors.Wrap(bw.Flush(), "flush results")
}

// WriteFile creates or truncates path and writes results to it.
func WriteFile(path string, results []filter.RuleID) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create result file")
	}
	if err := WriteResults(f, results); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "close result file")
}
