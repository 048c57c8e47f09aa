// Package merkle builds a merkle tree over an ordered plan step list. The
// root is embedded in a Plan Commitment; inclusion proofs correlate a
// runtime action with the step index it was committed at.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	leafPrefix = "warden:plan:leaf:v1"
	nodePrefix = "warden:plan:node:v1"
)

// Tree is a merkle tree over an ordered list of action identifiers.
// Duplicate steps are legal; each leaf binds the step index as well as the
// action, so reordering or repetition changes the root.
type Tree struct {
	Steps  []string
	Leaves []string   // leaf hashes, one per step
	Levels [][]string // levels of node hashes, leaves first
	Root   string
}

// Build constructs the tree for the given ordered step list.
func Build(steps []string) *Tree {
	t := &Tree{Steps: append([]string(nil), steps...)}
	if len(steps) == 0 {
		t.Root = ""
		return t
	}

	t.Leaves = make([]string, len(steps))
	for i, step := range steps {
		t.Leaves[i] = leafHash(i, step)
	}

	level := append([]string(nil), t.Leaves...)
	t.Levels = append(t.Levels, level)
	for len(level) > 1 {
		level = nextLevel(level)
		t.Levels = append(t.Levels, level)
	}
	t.Root = level[0]
	return t
}

// ProofStep is one sibling hash on the path from a leaf to the root.
type ProofStep struct {
	Side    string `json:"side"` // "L" or "R"
	Sibling string `json:"sibling_hash"`
}

// Proof is an inclusion proof for one committed step.
type Proof struct {
	StepIndex int         `json:"step_index"`
	Action    string      `json:"action"`
	LeafHash  string      `json:"leaf_hash"`
	Root      string      `json:"merkle_root"`
	Path      []ProofStep `json:"proof_path"`
}

// ProveStep produces the inclusion proof for the step at index i.
func (t *Tree) ProveStep(i int) (*Proof, error) {
	if i < 0 || i >= len(t.Leaves) {
		return nil, fmt.Errorf("merkle: step index %d out of range", i)
	}

	proof := &Proof{
		StepIndex: i,
		Action:    t.Steps[i],
		LeafHash:  t.Leaves[i],
		Root:      t.Root,
	}

	idx := i
	for _, level := range t.Levels[:len(t.Levels)-1] {
		// Odd levels duplicate the last node, mirroring construction.
		padded := level
		if len(padded)%2 != 0 {
			padded = append(append([]string(nil), padded...), padded[len(padded)-1])
		}
		if idx%2 == 0 {
			proof.Path = append(proof.Path, ProofStep{Side: "R", Sibling: padded[idx+1]})
		} else {
			proof.Path = append(proof.Path, ProofStep{Side: "L", Sibling: padded[idx-1]})
		}
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the path and confirms it lands on expectedRoot.
func VerifyProof(p *Proof, expectedRoot string) bool {
	if p == nil || expectedRoot == "" || p.Root != expectedRoot {
		return false
	}
	current := leafHash(p.StepIndex, p.Action)
	if current != p.LeafHash {
		return false
	}
	for _, step := range p.Path {
		if step.Side == "L" {
			current = nodeHash(step.Sibling, current)
		} else {
			current = nodeHash(current, step.Sibling)
		}
	}
	return current == expectedRoot
}

func leafHash(index int, action string) string {
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	fmt.Fprintf(&buf, "%d", index)
	buf.WriteByte(0)
	buf.WriteString(action)
	return sha256Hex(buf.Bytes())
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

func nextLevel(hashes []string) []string {
	count := len(hashes)
	if count%2 != 0 {
		hashes = append(append([]string(nil), hashes...), hashes[count-1])
		count++
	}
	out := make([]string, count/2)
	for i := 0; i < count; i += 2 {
		out[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return out
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
