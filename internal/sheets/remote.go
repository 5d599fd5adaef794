package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Remote actions understood by the scripting endpoint.
const (
	ActionLastRow    = "lastRow"
	ActionRead       = "read"
	ActionReadColumn = "readColumn"
	ActionReadCell   = "readCell"
	ActionWrite      = "write"
	ActionWriteCells = "writeCells"
	ActionAppend     = "append"
)

// Request is the body posted to the scripting endpoint.
type Request struct {
	Action string   `json:"action"`
	Sheet  string   `json:"sheet"`
	Row    int      `json:"row,omitempty"`
	Col    int      `json:"col,omitempty"`
	From   int      `json:"from,omitempty"`
	Count  int      `json:"count,omitempty"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// Response is the endpoint's reply. Result is "success" or "error".
type Response struct {
	Result  string     `json:"result"`
	Message string     `json:"message,omitempty"`
	Row     int        `json:"row,omitempty"`
	Value   string     `json:"value,omitempty"`
	Values  []string   `json:"values,omitempty"`
	Rows    [][]string `json:"rows,omitempty"`
}

// Remote talks to a spreadsheet published behind a web-app script.
type Remote struct {
	url    string
	token  string
	client *http.Client
}

var _ Book = (*Remote)(nil)

func NewRemote(url, token string, timeoutMs int) *Remote {
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}

	return &Remote{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

func (r *Remote) Sheet(name string) (Sheet, error) {
	return &remoteSheet{r: r, name: name}, nil
}

func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *Remote) call(ctx context.Context, in Request) (Response, error) {
	var out Response

	b, err := json.Marshal(in)
	if err != nil {
		return out, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(b))
	if err != nil {
		return out, err
	}

	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	res, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, fmt.Errorf("%w: action=%s sheet=%s: %v", ErrUnavailable, in.Action, in.Sheet, err)
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, res.Body)
		return out, fmt.Errorf("%w: action=%s sheet=%s status=%d", ErrUnavailable, in.Action, in.Sheet, res.StatusCode)
	}

	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("%w: action=%s sheet=%s: decode: %v", ErrUnavailable, in.Action, in.Sheet, err)
	}

	if out.Result != "success" {
		return out, fmt.Errorf("%w: action=%s sheet=%s: %s", ErrUnavailable, in.Action, in.Sheet, out.Message)
	}

	return out, nil
}

type remoteSheet struct {
	r    *Remote
	name string
}

func (s *remoteSheet) Name() string { return s.name }

func (s *remoteSheet) LastRow(ctx context.Context) (int, error) {
	res, err := s.r.call(ctx, Request{Action: ActionLastRow, Sheet: s.name})
	if err != nil {
		return 0, err
	}
	return res.Row, nil
}

func (s *remoteSheet) ReadRows(ctx context.Context, from, count int) ([][]string, error) {
	if from < 1 || count < 0 {
		return nil, ErrOutOfRange
	}
	if count == 0 {
		return [][]string{}, nil
	}
	res, err := s.r.call(ctx, Request{Action: ActionRead, Sheet: s.name, From: from, Count: count})
	if err != nil {
		return nil, err
	}
	if res.Rows == nil {
		return [][]string{}, nil
	}
	return res.Rows, nil
}

func (s *remoteSheet) ReadColumn(ctx context.Context, col, from, count int) ([]string, error) {
	if col < 1 || from < 1 || count < 0 {
		return nil, ErrOutOfRange
	}
	if count == 0 {
		return []string{}, nil
	}
	res, err := s.r.call(ctx, Request{Action: ActionReadColumn, Sheet: s.name, Col: col, From: from, Count: count})
	if err != nil {
		return nil, err
	}
	if res.Values == nil {
		return []string{}, nil
	}
	return res.Values, nil
}

func (s *remoteSheet) ReadCell(ctx context.Context, row, col int) (string, error) {
	if err := checkCell(row, col); err != nil {
		return "", err
	}
	res, err := s.r.call(ctx, Request{Action: ActionReadCell, Sheet: s.name, Row: row, Col: col})
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

func (s *remoteSheet) WriteCell(ctx context.Context, row, col int, value string) error {
	if err := checkCell(row, col); err != nil {
		return err
	}
	_, err := s.r.call(ctx, Request{Action: ActionWrite, Sheet: s.name, Row: row, Col: col, Value: value})
	return err
}

func (s *remoteSheet) WriteCells(ctx context.Context, row, fromCol int, values []string) error {
	if err := checkCell(row, fromCol); err != nil {
		return err
	}
	_, err := s.r.call(ctx, Request{Action: ActionWriteCells, Sheet: s.name, Row: row, Col: fromCol, Values: values})
	return err
}

func (s *remoteSheet) AppendRow(ctx context.Context, values []string) (int, error) {
	res, err := s.r.call(ctx, Request{Action: ActionAppend, Sheet: s.name, Values: values})
	if err != nil {
		return 0, err
	}
	return res.Row, nil
}
