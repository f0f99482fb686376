// Package traces ingests OTLP JSON exports from an instrumented actor
// runtime and confirms statically detected message flows against what
// actually ran.
package traces

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/DeusData/crate-graph-mcp/internal/store"
)

// OTLPExport represents the top-level structure of an OTLP JSON export.
type OTLPExport struct {
	ResourceSpans []ResourceSpan `json:"resourceSpans"`
}

// ResourceSpan contains spans from a single service/resource.
type ResourceSpan struct {
	Resource   Resource    `json:"resource"`
	ScopeSpans []ScopeSpan `json:"scopeSpans"`
}

// Resource describes the service that produced the spans.
type Resource struct {
	Attributes []Attribute `json:"attributes"`
}

// ScopeSpan groups spans by instrumentation scope.
type ScopeSpan struct {
	Spans []Span `json:"spans"`
}

// Span represents a single trace span.
type Span struct {
	TraceID      string      `json:"traceId"`
	SpanID       string      `json:"spanId"`
	ParentSpanID string      `json:"parentSpanId"`
	Name         string      `json:"name"`
	Kind         int         `json:"kind"` // 1=internal, 2=server, 3=client
	StartTime    string      `json:"startTimeUnixNano"`
	EndTime      string      `json:"endTimeUnixNano"`
	Attributes   []Attribute `json:"attributes"`
	Status       SpanStatus  `json:"status"`
}

// SpanStatus represents the status of a span.
type SpanStatus struct {
	Code int `json:"code"` // 0=unset, 1=ok, 2=error
}

// Attribute is a key-value pair in OTLP format.
type Attribute struct {
	Key   string         `json:"key"`
	Value AttributeValue `json:"value"`
}

// AttributeValue holds the typed value.
type AttributeValue struct {
	StringValue string `json:"stringValue,omitempty"`
	IntValue    string `json:"intValue,omitempty"`
}

// MessageSpanInfo holds one observed message delivery extracted from a span.
type MessageSpanInfo struct {
	ServiceName string
	ActorType   string
	MessageType string
	SpanKind    int
	Failed      bool
	DurationNs  int64
}

// IngestResult summarizes what the trace ingestion accomplished.
type IngestResult struct {
	SpansProcessed int `json:"spans_processed"`
	EdgesValidated int `json:"edges_validated"`
	EdgesEnriched  int `json:"edges_enriched"`
}

// Ingest reads an OTLP JSON file and uses actor message spans to validate
// and enrich SENDS and SENDS_DISTRIBUTED edges.
func Ingest(s *store.Store, workspace, filePath string) (*IngestResult, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read trace file: %w", err)
	}

	var export OTLPExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parse OTLP JSON: %w", err)
	}

	result := &IngestResult{}

	var msgSpans []MessageSpanInfo
	for _, rs := range export.ResourceSpans {
		serviceName := extractServiceName(rs.Resource)
		for _, ss := range rs.ScopeSpans {
			for i := range ss.Spans {
				info := extractMessageInfo(&ss.Spans[i], serviceName)
				if info != nil {
					msgSpans = append(msgSpans, *info)
					result.SpansProcessed++
				}
			}
		}
	}

	slog.Info("traces.ingest", "message_spans", len(msgSpans))

	matchSpansToEdges(s, workspace, msgSpans, result)

	return result, nil
}

// extractServiceName gets service.name from resource attributes.
func extractServiceName(r Resource) string {
	for _, attr := range r.Attributes {
		if attr.Key == "service.name" {
			return attr.Value.StringValue
		}
	}
	return ""
}

// extractMessageInfo pulls the actor and message type out of a span. The
// runtime's tracing layer sets actor.type and message.type attributes; older
// instrumentation only encodes them in the span name as "Actor::handle<Msg>"
// or "handle Msg".
func extractMessageInfo(span *Span, serviceName string) *MessageSpanInfo {
	info := &MessageSpanInfo{
		ServiceName: serviceName,
		SpanKind:    span.Kind,
		Failed:      span.Status.Code == 2,
	}

	for _, attr := range span.Attributes {
		switch attr.Key {
		case "actor.type", "kameo.actor":
			info.ActorType = baseTypeName(attr.Value.StringValue)
		case "message.type", "kameo.message":
			info.MessageType = baseTypeName(attr.Value.StringValue)
		}
	}

	if info.MessageType == "" {
		info.ActorType, info.MessageType = parseHandleSpanName(span.Name)
	}
	if info.MessageType == "" {
		return nil
	}

	info.DurationNs = parseDuration(span.StartTime, span.EndTime)
	return info
}

// parseHandleSpanName parses "Actor::handle<Msg>" and "handle Msg" span
// names. Anything else is not a message span.
func parseHandleSpanName(name string) (actorType, messageType string) {
	if rest, ok := strings.CutPrefix(name, "handle "); ok {
		return "", baseTypeName(rest)
	}
	idx := strings.Index(name, "::handle<")
	if idx < 0 || !strings.HasSuffix(name, ">") {
		return "", ""
	}
	actor := baseTypeName(name[:idx])
	msg := baseTypeName(strings.TrimSuffix(name[idx+len("::handle<"):], ">"))
	return actor, msg
}

// baseTypeName strips a module path and generic arguments from a type name.
func baseTypeName(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.Index(name, "<"); idx >= 0 {
		name = name[:idx]
	}
	if idx := strings.LastIndex(name, "::"); idx >= 0 {
		name = name[idx+2:]
	}
	return name
}

// parseDuration parses nanosecond timestamps and returns duration.
func parseDuration(startNano, endNano string) int64 {
	var start, end int64
	_, _ = fmt.Sscanf(startNano, "%d", &start)
	_, _ = fmt.Sscanf(endNano, "%d", &end)
	if end > start {
		return end - start
	}
	return 0
}

// matchSpansToEdges matches observed message deliveries to send edges. A
// match raises the edge's confidence and records the observed call count
// and tail latency.
func matchSpansToEdges(s *store.Store, workspace string, spans []MessageSpanInfo, result *IngestResult) {
	var edges []*store.Edge
	for _, edgeType := range []string{store.EdgeSends, store.EdgeSendsDistributed} {
		found, err := s.FindEdgesByType(workspace, edgeType)
		if err != nil {
			slog.Warn("traces.edges.err", "type", edgeType, "err", err)
			continue
		}
		edges = append(edges, found...)
	}

	edgesByMessage := make(map[string][]*store.Edge)
	for _, e := range edges {
		if msgType, ok := e.Properties["message_type"].(string); ok {
			edgesByMessage[baseTypeName(msgType)] = append(edgesByMessage[baseTypeName(msgType)], e)
		}
	}

	msgFrequency := make(map[string]int)
	msgLatencies := make(map[string][]int64)
	for _, span := range spans {
		msgFrequency[span.MessageType]++
		if span.DurationNs > 0 {
			msgLatencies[span.MessageType] = append(msgLatencies[span.MessageType], span.DurationNs)
		}
	}

	for msgType, matched := range edgesByMessage {
		freq, ok := msgFrequency[msgType]
		if !ok {
			continue
		}

		for _, edge := range matched {
			result.EdgesValidated++

			props := edge.Properties
			if props == nil {
				props = make(map[string]any)
			}
			props["validated_by_trace"] = true
			props["trace_call_count"] = freq

			if conf, ok := props["confidence"].(float64); ok && conf < 0.9 {
				props["confidence"] = min(conf+0.15, 1.0)
			}

			if latencies, ok := msgLatencies[msgType]; ok && len(latencies) > 0 {
				props["p99_latency_ns"] = calculateP99(latencies)
				result.EdgesEnriched++
			}

			edge.Properties = props
			_, _ = s.InsertEdge(edge)
		}
	}
}

// calculateP99 returns the 99th percentile value.
func calculateP99(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
