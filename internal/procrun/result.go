package procrun

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"lura/internal/secret"
)

// Result is the immutable outcome of a Run call (spec §3 RunResult).
type Result struct {
	Args   string   // argument vector, string form
	Argv   []string // argument vector, tokenized form
	Code   int
	Stdout []byte
	Stderr []byte
}

// Dump renders the result as YAML tagged `run.result` (spec §6, "A dump
// serializer emits YAML by default with top-level tag `run.result` or
// `run.error`").
func (r Result) Dump() ([]byte, error) {
	return yaml.Marshal(dumpNode("run.result", r.dumpFields()))
}

func (r Result) dumpFields() []dumpField {
	return []dumpField{
		{"args", r.Args},
		{"argv", r.Argv},
		{"code", r.Code},
		{"stdout", string(r.Stdout)},
		{"stderr", string(r.Stderr)},
	}
}

// Error carries a Result; it is raised when enforce holds and the
// exit code does not equal the expected enforce code (spec §3 RunError,
// §7 ProcessEnforce).
type Error struct {
	Result Result
	Want   int
}

func (e *Error) Error() string {
	return fmt.Sprintf("procrun: %q exited %d, want %d", e.Result.Args, e.Result.Code, e.Want)
}

// Dump renders the error as YAML tagged `run.error`, embedding the full
// RunResult (spec §7, ProcessEnforce: "full RunResult dump").
func (e *Error) Dump() ([]byte, error) {
	fields := append(e.Result.dumpFields(), dumpField{"want", e.Want})
	return yaml.Marshal(dumpNode("run.error", fields))
}

type dumpField struct {
	name  string
	value any
}

// dumpNode builds a tagged YAML mapping node, scrubbing any field
// whose name contains "pass" (case-insensitive) the way secret.Value's
// own MarshalYAML scrubs itself (spec §7, "Credential scrubbing is
// unconditional"; spec §8, "Password scrubbing" invariant). Neither
// Result nor Error currently carries a password field, but every dump
// produced anywhere in the tree goes through this same path so that
// adding one later can't silently leak it.
func dumpNode(tag string, fields []dumpField) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!" + tag}
	for _, f := range fields {
		v := f.value
		if strings.Contains(strings.ToLower(f.name), "pass") {
			v = secret.ScrubTag
		}
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: f.name}
		valNode := &yaml.Node{}
		if err := valNode.Encode(v); err != nil {
			valNode = &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%v", v)}
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node
}
