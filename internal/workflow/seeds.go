package workflow

import (
	"bytes"
	"encoding/json"
	"math"
	"math/rand/v2"
	"strconv"
)

// MaxSeed is the largest seed the server accepts.
const MaxSeed uint64 = math.MaxUint64

// SeedFields are the input names treated as seeds.
var SeedFields = []string{"seed", "noise_seed", "rand_seed"}

// Source supplies random seed values. *rand.Rand satisfies it.
type Source interface {
	Uint64() uint64
}

type globalSource struct{}

func (globalSource) Uint64() uint64 { return rand.Uint64() }

// RandomiseSeeds overwrites every numeric seed input with a value in
// [0, MaxSeed] drawn from rng (a process-wide source when nil). Linked inputs
// are arrays and are left alone. It returns the number of inputs changed.
func RandomiseSeeds(doc *Document, rng Source) (int, error) {
	if doc == nil {
		return 0, nil
	}
	if rng == nil {
		rng = globalSource{}
	}
	changed := 0
	for _, id := range doc.NodeIDs() {
		n, ok := doc.decodeNode(id)
		if !ok || n.inputs == nil {
			continue
		}
		touched := false
		for _, field := range SeedFields {
			value, ok := n.inputs[field]
			if !ok || !isNumber(value) {
				continue
			}
			n.inputs[field] = json.RawMessage(strconv.FormatUint(rng.Uint64(), 10))
			touched = true
			changed++
		}
		if touched {
			if err := doc.storeNode(id, n); err != nil {
				return changed, err
			}
		}
	}
	return changed, nil
}

// Seeds returns the numeric seed inputs keyed by "node/field".
func Seeds(doc *Document) map[string]string {
	out := map[string]string{}
	for _, id := range doc.NodeIDs() {
		n, ok := doc.decodeNode(id)
		if !ok {
			continue
		}
		for _, field := range SeedFields {
			if value, ok := n.inputs[field]; ok && isNumber(value) {
				out[id+"/"+field] = string(bytes.TrimSpace(value))
			}
		}
	}
	return out
}

func isNumber(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	c := raw[0]
	return c == '-' || (c >= '0' && c <= '9')
}
