// Package tasktype provides concrete Task variant implementations:
// HTTPTask, ShellTask, FunctionTask, and PolicyTask.
package tasktype

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagflow/engine/internal/convert"
	"github.com/dagflow/engine/internal/datum"
	"github.com/dagflow/engine/internal/fingerprint"
	"github.com/dagflow/engine/pkg/resilience"
)

// headerCarrier adapts http.Header to propagation.TextMapCarrier.
type headerCarrier struct{ h http.Header }

func (c *headerCarrier) Get(key string) string { return c.h.Get(key) }
func (c *headerCarrier) Set(key, value string) { c.h.Set(key, value) }
func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.h))
	for k := range c.h {
		keys = append(keys, k)
	}
	return keys
}

// TemplateResolver substitutes "{{task_id.field}}" placeholders against
// sibling task outputs, and "{{workflow.id}}"/"{{workflow.name}}" against
// run-scoped values. Callers supply whatever context map their run has
// already assembled; HTTPTask does not reach into the coordinator itself.
type TemplateResolver struct {
	Outputs      map[string]map[string]any
	WorkflowID   string
	WorkflowName string
}

func (r TemplateResolver) Resolve(template string) string {
	result := template
	for taskID, output := range r.Outputs {
		for field, value := range output {
			placeholder := fmt.Sprintf("{{%s.%s}}", taskID, field)
			result = strings.ReplaceAll(result, placeholder, fmt.Sprintf("%v", value))
		}
	}
	result = strings.ReplaceAll(result, "{{workflow.id}}", r.WorkflowID)
	result = strings.ReplaceAll(result, "{{workflow.name}}", r.WorkflowName)
	return result
}

// HTTPTask issues a templated HTTP request and populates a MemoryDatum
// output named "result" with the decoded JSON response (or raw body, for
// non-JSON responses). Requests are retried through resilience.Retry and
// gated by an optional shared circuit breaker.
type HTTPTask struct {
	Client   *http.Client
	Tracer   trace.Tracer
	Breaker  *resilience.CircuitBreaker
	Template TemplateResolver
	Cache    *ResultCache

	Method  string
	URL     string
	Headers map[string]string
	Body    map[string]any

	Output *datum.Datum

	Attempts     int
	InitialDelay time.Duration
}

// NewHTTPTask constructs an HTTPTask with a pooled client, matching the
// teacher's HTTPPlugin transport settings.
func NewHTTPTask(method, url string, output *datum.Datum) *HTTPTask {
	return &HTTPTask{
		Client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Tracer:       otel.Tracer("dagflow-http-task"),
		Method:       method,
		URL:          url,
		Output:       output,
		Attempts:     3,
		InitialDelay: 200 * time.Millisecond,
	}
}

func (h *HTTPTask) Quickhash() uint64 {
	return fingerprint.String(Key(struct {
		Method  string
		URL     string
		Headers map[string]string
		Body    map[string]any
	}{h.Method, h.URL, h.Headers, h.Body}))
}

func (h *HTTPTask) RunLogic(ctx context.Context, inputs map[string]any) error {
	var cacheKey string
	if h.Cache != nil {
		cacheKey = Key(struct {
			Method  string
			URL     string
			Headers map[string]string
			Body    map[string]any
		}{h.Method, h.URL, h.Headers, h.Body})
		if cached, ok := h.Cache.Get(cacheKey); ok {
			return h.Output.Populate(cached)
		}
	}

	if h.Breaker != nil && !h.Breaker.Allow() {
		return fmt.Errorf("http task: circuit open for %s", h.URL)
	}

	result, err := resilience.Retry(ctx, h.Attempts, h.InitialDelay, func() (map[string]any, error) {
		return h.doRequest(ctx)
	})
	if h.Breaker != nil {
		h.Breaker.RecordResult(err == nil)
	}
	if err != nil {
		return err
	}
	if h.Cache != nil {
		h.Cache.Put(cacheKey, result)
	}
	return h.Output.Populate(result)
}

func (h *HTTPTask) doRequest(ctx context.Context) (map[string]any, error) {
	ctx, span := h.Tracer.Start(ctx, "http_task.request",
		trace.WithAttributes(
			attribute.String("url", h.URL),
			attribute.String("method", h.Method),
		),
	)
	defer span.End()

	url := h.Template.Resolve(h.URL)

	var body io.Reader
	if h.Body != nil {
		bodyJSON, err := json.Marshal(h.Body)
		if err != nil {
			return nil, fmt.Errorf("http task: marshal body: %w", err)
		}
		body = strings.NewReader(h.Template.Resolve(string(bodyJSON)))
	}

	method := h.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("http task: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.Headers {
		req.Header.Set(k, h.Template.Resolve(v))
	}
	otel.GetTextMapPropagator().Inject(ctx, &headerCarrier{req.Header})

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http task: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("http task: read response: %w", err)
	}
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int("http.response_size", len(respBody)),
	)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http task: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			result = map[string]any{"body": string(respBody), "status_code": resp.StatusCode}
		}
	} else {
		result = map[string]any{"status_code": resp.StatusCode}
	}
	return result, nil
}

func (h *HTTPTask) InterruptCleanup() error      { return h.Output.Clear() }
func (h *HTTPTask) FailCleanup() error           { return h.Output.Clear() }
func (h *HTTPTask) InputForm() convert.InputForm { return convert.Object }
