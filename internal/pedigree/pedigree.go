// Package pedigree loads the trio file handed to the phasing tools. The file
// is passed through untouched; it is only checked for structural sanity.
package pedigree

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/vk/phasegrid/internal/faults"
)

// Missing is the placeholder for an unknown parent.
const Missing = "NA"

// Parents holds the father and mother of a sample; either may be Missing.
type Parents struct {
	Father string
	Mother string
}

// Pedigree maps a sample id to its parents.
type Pedigree map[string]Parents

// Load reads the pedigree at path and validates it against the known sample
// ids, usually the discovered input samples.
func Load(path string, known []string) (Pedigree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, faults.Wrap(faults.ErrFatalPreflight, err, "pedigree")
	}
	defer f.Close()

	p, err := Parse(f)
	if err == nil {
		err = p.Validate(known)
	}
	if err != nil {
		return nil, faults.Wrap(faults.ErrFatalPreflight, err, "pedigree %s", path)
	}
	return p, nil
}

// Parse reads "kid father mother" rows separated by whitespace. Trio files
// usually list kids only, so parents are not required to have rows; Validate
// checks they name real samples.
func Parse(r io.Reader) (Pedigree, error) {
	p := make(Pedigree)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: want 3 columns (kid father mother), got %d", lineNo, len(fields))
		}
		kid := fields[0]
		if kid == Missing {
			return nil, fmt.Errorf("line %d: sample id cannot be %s", lineNo, Missing)
		}
		if _, dup := p[kid]; dup {
			return nil, fmt.Errorf("line %d: duplicate sample %q", lineNo, kid)
		}
		p[kid] = Parents{Father: fields[1], Mother: fields[2]}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that every referenced parent is Missing, has its own row,
// or is one of known.
func (p Pedigree) Validate(known []string) error {
	ids := make(map[string]struct{}, len(known))
	for _, id := range known {
		ids[id] = struct{}{}
	}
	for _, kid := range p.Samples() {
		parents := p[kid]
		for _, parent := range []string{parents.Father, parents.Mother} {
			if parent == Missing {
				continue
			}
			_, row := p[parent]
			_, sample := ids[parent]
			if !row && !sample {
				return fmt.Errorf("sample %q references unknown parent %q", kid, parent)
			}
		}
	}
	return nil
}

// check rejects self-parenting, identical parents and ancestry cycles.
func (p Pedigree) check() error {
	for _, kid := range p.Samples() {
		parents := p[kid]
		for _, parent := range []string{parents.Father, parents.Mother} {
			if parent == Missing {
				continue
			}
			if parent == kid {
				return fmt.Errorf("sample %q is its own parent", kid)
			}
		}
		if parents.Father != Missing && parents.Father == parents.Mother {
			return fmt.Errorf("sample %q has the same father and mother %q", kid, parents.Father)
		}
	}
	return p.detectCycles()
}

// detectCycles walks parent links depth-first with a visiting set.
func (p Pedigree) detectCycles() error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		visiting[id] = true
		parents := p[id]
		for _, parent := range []string{parents.Father, parents.Mother} {
			if _, row := p[parent]; !row {
				continue
			}
			if visiting[parent] {
				return fmt.Errorf("ancestry cycle involving %q", parent)
			}
			if !visited[parent] {
				if err := visit(parent); err != nil {
					return err
				}
			}
		}
		delete(visiting, id)
		visited[id] = true
		return nil
	}

	for _, id := range p.Samples() {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Samples returns the sample ids in sorted order.
func (p Pedigree) Samples() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
