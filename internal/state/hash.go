package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Hash returns a canonical digest of the state: every field serialized in
// fixed name order, so structurally equal states always collide. The planner
// keys its closed set on this.
func (w WorldState) Hash() string {
	var b strings.Builder
	for _, name := range fieldNames {
		val, _ := w.Get(name)
		b.WriteString(name)
		b.WriteByte('=')
		writeCanonical(&b, val)
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(b *strings.Builder, val interface{}) {
	switch v := val.(type) {
	case float64:
		fmt.Fprintf(b, "%.6g", v)
	case bool:
		if v {
			b.WriteString("t")
		} else {
			b.WriteString("f")
		}
	case string:
		b.WriteString(v)
	case []string:
		b.WriteString(strings.Join(v, ","))
	case map[string]int:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "%s:%d,", k, v[k])
		}
	default:
		fmt.Fprintf(b, "%v", v)
	}
}
