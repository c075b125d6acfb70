package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// blockEntry is one ARG:<path> prelude parsed from a block-form gadget
// call body, before placement into the parameter tree.
type blockEntry struct {
	path      []string
	raw       string
	multiline bool
}

const argPrefix = "ARG:"

// parseBlockForm splits a gadget call body into its ARG:<path> preludes.
// Each prelude's value runs until the next ARG: line or the end of body;
// a value spanning more than one line is never coerced downstream.
func parseBlockForm(body string) ([]blockEntry, error) {
	lines := strings.Split(body, "\n")
	var entries []blockEntry
	i := 0
	for i < len(lines) {
		line := lines[i]
		if !strings.HasPrefix(line, argPrefix) {
			if strings.TrimSpace(line) == "" {
				i++
				continue
			}
			return nil, fmt.Errorf("stream: unexpected line outside ARG prelude: %q", line)
		}
		pathStr := strings.TrimPrefix(line, argPrefix)
		pathStr = strings.TrimSpace(pathStr)
		i++
		var valueLines []string
		for i < len(lines) && !strings.HasPrefix(lines[i], argPrefix) {
			valueLines = append(valueLines, lines[i])
			i++
		}
		// Drop exactly one trailing blank line introduced by the prelude's
		// terminating newline, matching "ARG:<path>\n<value>\n" framing.
		for len(valueLines) > 0 && valueLines[len(valueLines)-1] == "" {
			valueLines = valueLines[:len(valueLines)-1]
			break
		}
		entries = append(entries, blockEntry{
			path:      splitPointer(pathStr),
			raw:       strings.Join(valueLines, "\n"),
			multiline: len(valueLines) > 1,
		})
	}
	return entries, nil
}

// splitPointer splits a JSON-pointer-style path (without the leading
// separator) into its segments, unescaping "~1" and "~0" per RFC 6901.
func splitPointer(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		p = strings.ReplaceAll(p, "~0", "~")
		parts[i] = p
	}
	return parts
}

// rawLeaf is a block-form value still awaiting coercion: the literal text
// between its ARG prelude and the next one, tagged with whether it spanned
// more than one line. coerceTree consumes these to produce final scalars.
type rawLeaf struct {
	Raw       string
	Multiline bool
}

// placeBlockForm assembles the parameter tree from a set of block entries,
// placing each raw leaf at its path uncoerced. Array indices within a path
// segment sequence must be contiguous; re-using a path is an error.
func placeBlockForm(entries []blockEntry) (map[string]any, error) {
	root := map[string]any{}
	seen := map[string]bool{}
	for _, e := range entries {
		key := strings.Join(e.path, "/")
		if seen[key] {
			return nil, fmt.Errorf("stream: duplicate ARG path %q", key)
		}
		seen[key] = true
		if err := placeAt(root, e.path, rawLeaf{Raw: e.raw, Multiline: e.multiline}); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// placeAt places value at path within root, growing nested maps/slices as
// needed. It threads updated containers back up through the recursion
// rather than mutating through stale pointers, since appending to a slice
// may reallocate its backing array.
func placeAt(root map[string]any, path []string, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("stream: empty ARG path")
	}
	updated, err := setIn(root, path, value)
	if err != nil {
		return err
	}
	m, ok := updated.(map[string]any)
	if !ok {
		return fmt.Errorf("stream: ARG path root must resolve to an object")
	}
	for k, v := range m {
		root[k] = v
	}
	return nil
}

// setIn returns a copy of container with value placed at path, creating
// intermediate maps/slices as required by the shape path implies.
func setIn(container any, path []string, value any) (any, error) {
	seg := path[0]
	rest := path[1:]
	idx, isIndex := parseIndex(seg)

	if isIndex {
		var arr []any
		if container != nil {
			a, ok := container.([]any)
			if !ok {
				return nil, fmt.Errorf("stream: expected array at index %q", seg)
			}
			arr = a
		}
		if idx > len(arr) {
			return nil, fmt.Errorf("stream: non-contiguous array index %d", idx)
		}
		if idx == len(arr) {
			arr = append(arr, nil)
		}
		if len(rest) == 0 {
			arr[idx] = value
			return arr, nil
		}
		next, err := setIn(arr[idx], rest, value)
		if err != nil {
			return nil, err
		}
		arr[idx] = next
		return arr, nil
	}

	var obj map[string]any
	if container != nil {
		m, ok := container.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("stream: expected object at field %q", seg)
		}
		obj = m
	} else {
		obj = map[string]any{}
	}
	if len(rest) == 0 {
		obj[seg] = value
		return obj, nil
	}
	next, err := setIn(obj[seg], rest, value)
	if err != nil {
		return nil, err
	}
	obj[seg] = next
	return obj, nil
}

func parseIndex(seg string) (int, bool) {
	n, err := strconv.Atoi(seg)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
