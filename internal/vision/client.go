package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/your-org/fauna/internal/config"
	"github.com/your-org/fauna/internal/observability"
)

const (
	opCrop    = "crop"
	opSegment = "segment"
	opEmbed   = "embed"
	opVerify  = "verify"

	maxResponseBytes = 64 << 20
	maxErrorBody     = 512
)

// Client talks to the external vision service. It never returns errors:
// every failure is folded into the Outcome of the typed result.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient builds a client from config. httpClient may be nil.
func NewClient(cfg config.VisionConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		timeout:    timeout,
		httpClient: httpClient,
		log:        slog.Default().With("component", "vision_client"),
	}
}

// Available reports whether a service endpoint is configured.
func (c *Client) Available() bool {
	return c.baseURL != ""
}

type cropResponse struct {
	Detected     *bool    `json:"detected"`
	Confidence   *float64 `json:"confidence"`
	CroppedImage []byte   `json:"cropped_image"`
}

// DetectAndCrop asks the detector for the main subject and a crop around it.
func (c *Client) DetectAndCrop(ctx context.Context, image []byte, threshold float64) CropResult {
	var resp cropResponse
	out := c.call(ctx, opCrop, func(w *multipart.Writer) error {
		if err := writeImagePart(w, "image", "image.jpg", image); err != nil {
			return err
		}
		return w.WriteField("confidence_threshold", strconv.FormatFloat(threshold, 'f', -1, 64))
	}, &resp)
	if !out.OK() {
		return CropResult{Outcome: out}
	}

	if resp.Detected == nil {
		return CropResult{Outcome: c.record(opCrop, malformed("crop response missing detected"))}
	}
	if *resp.Detected && len(resp.CroppedImage) == 0 {
		return CropResult{Outcome: c.record(opCrop, malformed("crop response missing cropped_image"))}
	}

	res := CropResult{Outcome: c.record(opCrop, out), Detected: *resp.Detected, Confidence: resp.Confidence}
	if res.Detected {
		res.Cropped = resp.CroppedImage
	}
	return res
}

type segmentResponse struct {
	Detected       *bool  `json:"detected"`
	SegmentedImage []byte `json:"segmented_image"`
}

// Segment removes the background around the subject.
func (c *Client) Segment(ctx context.Context, image []byte) SegmentResult {
	var resp segmentResponse
	out := c.call(ctx, opSegment, func(w *multipart.Writer) error {
		return writeImagePart(w, "image", "image.jpg", image)
	}, &resp)
	if !out.OK() {
		return SegmentResult{Outcome: out}
	}

	if resp.Detected == nil {
		return SegmentResult{Outcome: c.record(opSegment, malformed("segment response missing detected"))}
	}
	if *resp.Detected && len(resp.SegmentedImage) == 0 {
		return SegmentResult{Outcome: c.record(opSegment, malformed("segment response missing segmented_image"))}
	}

	res := SegmentResult{Outcome: c.record(opSegment, out), Detected: *resp.Detected}
	if res.Detected {
		res.Segmented = resp.SegmentedImage
	}
	return res
}

type embedResponse struct {
	Success   *bool     `json:"success"`
	Embedding []float32 `json:"embedding"`
	Dim       *int      `json:"dim"`
	Model     *string   `json:"model"`
}

// Embed computes the embedding vector of an image.
func (c *Client) Embed(ctx context.Context, image []byte) EmbedResult {
	var resp embedResponse
	out := c.call(ctx, opEmbed, func(w *multipart.Writer) error {
		return writeImagePart(w, "image", "image.jpg", image)
	}, &resp)
	if !out.OK() {
		return EmbedResult{Outcome: out}
	}

	if resp.Success == nil {
		return EmbedResult{Outcome: c.record(opEmbed, malformed("embed response missing success"))}
	}
	if !*resp.Success {
		return EmbedResult{Outcome: c.record(opEmbed, Outcome{Status: StatusServiceError, Detail: "embedder reported failure"})}
	}
	if len(resp.Embedding) == 0 {
		return EmbedResult{Outcome: c.record(opEmbed, malformed("embed response missing embedding"))}
	}

	res := EmbedResult{Outcome: c.record(opEmbed, out), Vector: resp.Embedding, Dim: len(resp.Embedding)}
	if resp.Dim != nil {
		res.Dim = *resp.Dim
	}
	if resp.Model != nil {
		res.Model = *resp.Model
	}
	return res
}

type verifyResponse struct {
	Success *bool `json:"success"`
	Results []struct {
		CandidateIndex *int    `json:"candidate_index"`
		IsSame         bool    `json:"is_same"`
		Score          float64 `json:"score"`
		Confidence     string  `json:"confidence"`
		MatchCount     int     `json:"match_count"`
		InlierCount    int     `json:"inlier_count"`
	} `json:"results"`
}

// Verify compares the query image against candidates. Part order is preserved so
// CandidateIndex in the results maps back to the candidates slice.
func (c *Client) Verify(ctx context.Context, query []byte, candidates [][]byte) VerifyResult {
	if len(candidates) == 0 {
		return VerifyResult{Outcome: ok()}
	}

	var resp verifyResponse
	out := c.call(ctx, opVerify, func(w *multipart.Writer) error {
		if err := writeImagePart(w, "query", "query.jpg", query); err != nil {
			return err
		}
		for i, cand := range candidates {
			if err := writeImagePart(w, "candidates", fmt.Sprintf("candidate_%d.jpg", i), cand); err != nil {
				return err
			}
		}
		return nil
	}, &resp)
	if !out.OK() {
		return VerifyResult{Outcome: out}
	}

	if resp.Success == nil {
		return VerifyResult{Outcome: c.record(opVerify, malformed("verify response missing success"))}
	}
	if !*resp.Success {
		return VerifyResult{Outcome: c.record(opVerify, Outcome{Status: StatusServiceError, Detail: "verifier reported failure"})}
	}

	matches := make([]VerifyMatch, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.CandidateIndex == nil || *r.CandidateIndex < 0 || *r.CandidateIndex >= len(candidates) {
			return VerifyResult{Outcome: c.record(opVerify, malformed("verify result has invalid candidate_index"))}
		}
		matches = append(matches, VerifyMatch{
			CandidateIndex:  *r.CandidateIndex,
			IsSame:          r.IsSame,
			Score:           r.Score,
			ConfidenceLabel: r.Confidence,
			MatchCount:      r.MatchCount,
			InlierCount:     r.InlierCount,
		})
	}
	return VerifyResult{Outcome: c.record(opVerify, out), Results: matches}
}

// call posts a multipart body to one operation and decodes the JSON answer into out.
// Failures are recorded here; a clean decode is recorded by the caller once the payload validates.
func (c *Client) call(ctx context.Context, op string, build func(*multipart.Writer) error, out any) Outcome {
	if !c.Available() {
		return c.record(op, unavailable())
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := build(mw); err != nil {
		return c.record(op, Outcome{Status: StatusServiceError, Detail: "build request: " + err.Error()})
	}
	if err := mw.Close(); err != nil {
		return c.record(op, Outcome{Status: StatusServiceError, Detail: "build request: " + err.Error()})
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		observability.StageDuration.WithLabelValues("vision_" + op).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/"+op, &body)
	if err != nil {
		return c.record(op, Outcome{Status: StatusServiceError, Detail: "build request: " + err.Error()})
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.record(op, transportFailure(callCtx, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := fmt.Sprintf("status %d", resp.StatusCode)
		if s := strings.TrimSpace(string(snippet)); s != "" {
			detail += ": " + s
		}
		return c.record(op, Outcome{Status: StatusServiceError, Detail: detail})
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.record(op, transportFailure(callCtx, err))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return c.record(op, malformed("decode response: "+err.Error()))
	}
	return ok()
}

func transportFailure(callCtx context.Context, err error) Outcome {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return Outcome{Status: StatusTimeout, Detail: "vision call timed out"}
	}
	return Outcome{Status: StatusServiceError, Detail: err.Error()}
}

// record counts the outcome and logs anything that is not a clean answer.
func (c *Client) record(op string, out Outcome) Outcome {
	observability.VisionCalls.WithLabelValues(op, string(out.Status)).Inc()
	switch out.Status {
	case StatusOK, StatusUnavailable:
	default:
		c.log.Warn("vision call degraded", "operation", op, "status", out.Status, "detail", out.Detail)
	}
	return out
}

func writeImagePart(w *multipart.Writer, field, filename string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}
