package splitsearch

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SplitErrorsTrailer is the trailer listing the splits that failed during a stream.
const SplitErrorsTrailer = "X-Split-Errors"

// Row is one streamed value. CSV streams fill Partition and Value with the text the
// server rendered; RowBinary streams fill RawPartition and RawValue with the native
// 8-byte representation of the field type.
type Row struct {
	HasPartition bool
	Partition    string
	Value        string
	RawPartition uint64
	RawValue     uint64
}

// Stream reads the rows of a search stream as they arrive. It must be closed.
type Stream struct {
	resp        *http.Response
	r           *bufio.Reader
	binary      bool
	partitioned bool
	row         Row
	err         error
	done        bool
	finish      func(failedSplits int, err error)
}

// SearchStream starts a stream of the values of req.FastField over the published splits
// of index. The returned Stream is bounded by ctx only.
func (c *Client) SearchStream(ctx context.Context, index string, req *SearchStreamRequest) (*Stream, error) {
	start := time.Now()
	hreq, err := c.newRequest(ctx, http.MethodPost, c.endpoint(index, "search/stream"), req)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(hreq, http.StatusOK)
	if err != nil {
		c.obs.observe("search_stream", start, 0, err)
		return nil, fmt.Errorf("search stream %s: %w", index, err)
	}
	return &Stream{
		resp:        resp,
		r:           bufio.NewReader(resp.Body),
		binary:      req.OutputFormat == OutputRowBinary,
		partitioned: req.PartitionByField != nil,
		finish:      func(failed int, err error) { c.obs.observe("search_stream", start, failed, err) },
	}, nil
}

// Next advances to the next row. It returns false at the end of the stream or on error.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	var err error
	if s.binary {
		err = s.nextBinary()
	} else {
		err = s.nextCSV()
	}
	if err != nil {
		s.done = true
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		return false
	}
	return true
}

func (s *Stream) nextCSV() error {
	line, err := s.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return fmt.Errorf("splitsearch: truncated row %q", line)
		}
		return err
	}
	line = strings.TrimSuffix(line, "\n")
	s.row = Row{Value: line}
	if s.partitioned {
		p, v, ok := strings.Cut(line, ",")
		if !ok {
			return fmt.Errorf("splitsearch: row %q has no partition", line)
		}
		s.row = Row{HasPartition: true, Partition: p, Value: v}
	}
	return nil
}

func (s *Stream) nextBinary() error {
	size := 8
	if s.partitioned {
		size = 16
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("splitsearch: truncated binary row: %w", err)
		}
		return err
	}
	if s.partitioned {
		s.row = Row{HasPartition: true, RawPartition: binary.LittleEndian.Uint64(buf), RawValue: binary.LittleEndian.Uint64(buf[8:])}
		return nil
	}
	s.row = Row{RawValue: binary.LittleEndian.Uint64(buf)}
	return nil
}

// Row returns the current row.
func (s *Stream) Row() Row { return s.row }

// Err returns the first read error other than the end of the stream.
func (s *Stream) Err() error { return s.err }

// SplitErrors returns the failed splits reported by the server. It is only complete
// once Next has returned false.
func (s *Stream) SplitErrors() []string {
	raw := s.resp.Trailer.Get(SplitErrorsTrailer)
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{raw}
	}
	return out
}

// Close releases the connection. Closing before the end cancels the stream server-side.
func (s *Stream) Close() error {
	if s.finish != nil {
		s.finish(len(s.SplitErrors()), s.err)
		s.finish = nil
	}
	return s.resp.Body.Close()
}
