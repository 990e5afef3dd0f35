package progress

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_ReportsEveryInterval(t *testing.T) {
	var (
		buf     bytes.Buffer
		reports []int64
	)

	pw := NewWriter(&buf, 4, func(written int64) { reports = append(reports, written) })

	for _, chunk := range []string{"ab", "cd", "efg", "hijkl", "m"} {
		_, err := pw.Write([]byte(chunk))
		require.NoError(t, err)
	}

	assert.Equal(t, "abcdefghijklm", buf.String())
	assert.Equal(t, int64(13), pw.Written())
	assert.Equal(t, []int64{4, 12}, reports)
}

func TestWriter_NoCallback(t *testing.T) {
	pw := NewWriter(io.Discard, 1, nil)

	n, err := io.Copy(pw, strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, int64(7), pw.Written())
}

type failingWriter struct{ n int }

func (f failingWriter) Write(p []byte) (int, error) {
	return f.n, errors.New("disk full")
}

func TestWriter_CountsPartialWrites(t *testing.T) {
	pw := NewWriter(failingWriter{n: 2}, 0, nil)

	n, err := pw.Write([]byte("abcd"))
	require.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(2), pw.Written())
}
