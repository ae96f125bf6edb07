// Package robot talks to the robot's HTTP API: persisted labware offsets,
// relative jog moves and command chains. Requests are not retried.
package robot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"offsetcore/pkg/domain"
)

var _ domain.OffsetRepository = (*Client)(nil)

// APIVersion is sent on every request.
const APIVersion = "4"

// ErrNoMaintenanceRun is returned by hardware calls made before a
// maintenance run is bound.
var ErrNoMaintenanceRun = errors.New("no maintenance run bound")

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Method string
	Path   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("robot %s %s: %d: %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("robot %s %s: %d", e.Method, e.Path, e.Status)
}

// Client is a resty-based robot API client. The zero value is not usable;
// call New.
type Client struct {
	http      *resty.Client
	runID     string
	pipetteID string
}

// New builds a client for the robot at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Opentrons-Version", APIVersion).
		SetHeader("User-Agent", "offsetcore/1.0")
	return &Client{http: rc}
}

// NewWithResty wraps an existing resty client.
func NewWithResty(rc *resty.Client) *Client {
	return &Client{http: rc}
}

// ForMaintenanceRun returns a client whose jog and command calls target
// the given maintenance run, jogging pipetteID.
func (c *Client) ForMaintenanceRun(runID, pipetteID string) *Client {
	return &Client{http: c.http, runID: runID, pipetteID: pipetteID}
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type errorBody struct {
	Errors []struct {
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, query map[string]string) error {
	req := c.http.R().SetContext(ctx).SetError(&errorBody{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("robot %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode(), Method: method, Path: path}
		if eb, ok := resp.Error().(*errorBody); ok && len(eb.Errors) > 0 {
			apiErr.Detail = eb.Errors[0].Detail
		}
		return apiErr
	}
	return nil
}

// ApplyOffsets implements domain.OffsetRepository.
func (c *Client) ApplyOffsets(ctx context.Context, reqs []domain.OffsetApplyRequest) ([]domain.PersistedOffset, error) {
	var out envelope[[]domain.PersistedOffset]
	if err := c.do(ctx, http.MethodPost, "/labwareOffsets", envelope[[]domain.OffsetApplyRequest]{Data: reqs}, &out, nil); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// DeleteOffsets implements domain.OffsetRepository. A 404 for an ID counts
// as already deleted.
func (c *Client) DeleteOffsets(ctx context.Context, ids []string) error {
	for _, id := range ids {
		err := c.do(ctx, http.MethodDelete, "/labwareOffsets/"+id, nil, nil, nil)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ListOffsets implements domain.OffsetRepository.
func (c *Client) ListOffsets(ctx context.Context, definitionURI string) ([]domain.PersistedOffset, error) {
	var query map[string]string
	if definitionURI != "" {
		query = map[string]string{"definitionUri": definitionURI}
	}
	var out envelope[[]domain.PersistedOffset]
	if err := c.do(ctx, http.MethodGet, "/labwareOffsets", nil, &out, query); err != nil {
		return nil, err
	}
	return out.Data, nil
}

type commandResponse struct {
	ID          string         `json:"id"`
	CommandType string         `json:"commandType"`
	Status      string         `json:"status"`
	Result      map[string]any `json:"result"`
	Error       *struct {
		Detail string `json:"detail"`
	} `json:"error"`
}

func (r commandResponse) toResult() domain.CommandResult {
	out := domain.CommandResult{ID: r.ID, CommandType: r.CommandType, Status: r.Status, Result: r.Result}
	if r.Error != nil {
		out.Error = r.Error.Detail
	}
	return out
}

func (c *Client) runCommand(ctx context.Context, cmd domain.Command) (domain.CommandResult, error) {
	if c.runID == "" {
		return domain.CommandResult{}, ErrNoMaintenanceRun
	}
	var out envelope[commandResponse]
	path := "/maintenance_runs/" + c.runID + "/commands"
	query := map[string]string{"waitUntilComplete": "true"}
	if err := c.do(ctx, http.MethodPost, path, envelope[domain.Command]{Data: cmd}, &out, query); err != nil {
		return domain.CommandResult{}, err
	}
	return out.Data.toResult(), nil
}

// RunCommands executes cmds in order. Unless continueOnFailure is set the
// chain stops at the first failed command; its result is still returned.
func (c *Client) RunCommands(ctx context.Context, cmds []domain.Command, continueOnFailure bool) ([]domain.CommandResult, error) {
	results := make([]domain.CommandResult, 0, len(cmds))
	for _, cmd := range cmds {
		res, err := c.runCommand(ctx, cmd)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if res.Failed() && !continueOnFailure {
			return results, fmt.Errorf("command %s (%s) failed: %s", res.ID, res.CommandType, res.Error)
		}
	}
	return results, nil
}

// Jog moves the bound pipette relative to its position and reports the
// absolute position it stopped at.
func (c *Client) Jog(ctx context.Context, j domain.Jog) (domain.Vector3, error) {
	if !j.Axis.Valid() {
		return domain.Vector3{}, fmt.Errorf("unknown axis %q", j.Axis)
	}
	res, err := c.runCommand(ctx, domain.Command{
		CommandType: "moveRelative",
		Params: map[string]any{
			"pipetteId": c.pipetteID,
			"axis":      string(j.Axis),
			"distance":  j.Distance(),
		},
	})
	if err != nil {
		return domain.Vector3{}, err
	}
	if res.Failed() {
		return domain.Vector3{}, fmt.Errorf("jog %s: %s", j.Axis, res.Error)
	}
	return positionOf(res)
}

func positionOf(res domain.CommandResult) (domain.Vector3, error) {
	raw, ok := res.Result["position"]
	if !ok {
		return domain.Vector3{}, fmt.Errorf("command %s reported no position", res.ID)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return domain.Vector3{}, err
	}
	var pos domain.Vector3
	if err := json.Unmarshal(data, &pos); err != nil {
		return domain.Vector3{}, fmt.Errorf("decode position: %w", err)
	}
	return pos, nil
}
