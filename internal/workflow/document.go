package workflow

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"cogcomfy/internal/services"
)

//go:embed default_workflow.json
var defaultWorkflow string

// DefaultJSON returns the bundled example workflow.
func DefaultJSON() string {
	return defaultWorkflow
}

// Document is a parsed workflow. The zero value is an empty workflow.
type Document struct {
	nodes map[string]json.RawMessage
}

// Load parses text as a workflow. Invalid JSON or a top level that is not an
// object fails with ErrMalformedWorkflow.
func Load(text string) (*Document, error) {
	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, services.Wrap(services.ErrMalformedWorkflow, "workflow", "parse", "workflow must be a JSON object", nil)
	}
	var nodes map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &nodes); err != nil {
		return nil, services.Wrap(services.ErrMalformedWorkflow, "workflow", "parse", "invalid JSON", err)
	}
	if nodes == nil {
		nodes = map[string]json.RawMessage{}
	}
	return &Document{nodes: nodes}, nil
}

// LoadOrDefault parses text, falling back to the bundled workflow when text is
// blank.
func LoadOrDefault(text string) (*Document, error) {
	if strings.TrimSpace(text) == "" {
		return Load(defaultWorkflow)
	}
	return Load(text)
}

// NodeIDs returns the node identifiers in sorted order.
func (d *Document) NodeIDs() []string {
	ids := make([]string, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len reports the number of nodes.
func (d *Document) Len() int {
	return len(d.nodes)
}

// Node returns the raw JSON body of a node.
func (d *Document) Node(id string) (json.RawMessage, bool) {
	raw, ok := d.nodes[id]
	return raw, ok
}

// Input returns the raw value of a node input.
func (d *Document) Input(nodeID, name string) (json.RawMessage, bool) {
	node, ok := d.decodeNode(nodeID)
	if !ok || node.inputs == nil {
		return nil, false
	}
	value, ok := node.inputs[name]
	return value, ok
}

// MarshalJSON encodes the document as a JSON object.
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil || d.nodes == nil {
		return []byte("{}"), nil
	}
	return encodeObject(d.nodes)
}

// Marshal returns the document as JSON text.
func (d *Document) Marshal() ([]byte, error) {
	return d.MarshalJSON()
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	nodes := make(map[string]json.RawMessage, len(d.nodes))
	for id, raw := range d.nodes {
		nodes[id] = append(json.RawMessage(nil), raw...)
	}
	return &Document{nodes: nodes}
}

// node is a decoded node body with its inputs split out; unknown fields stay raw.
type node struct {
	fields map[string]json.RawMessage
	inputs map[string]json.RawMessage
}

func (d *Document) decodeNode(id string) (node, bool) {
	raw, ok := d.nodes[id]
	if !ok {
		return node{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return node{}, false
	}
	n := node{fields: fields}
	if rawInputs, ok := fields["inputs"]; ok {
		var inputs map[string]json.RawMessage
		if err := json.Unmarshal(rawInputs, &inputs); err == nil {
			n.inputs = inputs
		}
	}
	return n, true
}

// storeNode writes back a node whose inputs changed. Values are spliced in
// as their raw bytes, so untouched inputs and fields keep their exact text.
func (d *Document) storeNode(id string, n node) error {
	inputs, err := encodeObject(n.inputs)
	if err != nil {
		return fmt.Errorf("encode inputs for node %s: %w", id, err)
	}
	n.fields["inputs"] = inputs
	raw, err := encodeObject(n.fields)
	if err != nil {
		return fmt.Errorf("encode node %s: %w", id, err)
	}
	d.nodes[id] = raw
	return nil
}

// encodeObject writes members in key order without re-encoding their values.
// json.Marshal would compact each value and escape <, > and &.
func encodeObject(members map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(members))
	for key := range members {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range keys {
		value := members[key]
		if !json.Valid(value) {
			return nil, fmt.Errorf("member %q is not valid JSON", key)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := encodeString(key)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encodeString quotes s as a JSON string, leaving HTML characters alone.
func encodeString(s string) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
