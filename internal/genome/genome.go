// Package genome holds the small coordinate vocabulary shared by the chunk
// catalog, the graph builder and the tool adapters.
package genome

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Chromosome identifies one of the analysed chromosomes: "1".."22" or "X".
type Chromosome string

// X is the only non-autosome handled by the pipeline.
const X Chromosome = "X"

// ParseChromosome accepts "21", "chr21", "x" or "chrX".
func ParseChromosome(s string) (Chromosome, error) {
	name := strings.TrimSpace(s)
	name = strings.TrimPrefix(strings.TrimPrefix(name, "chr"), "CHR")
	if strings.EqualFold(name, "x") {
		return X, nil
	}
	n, err := strconv.Atoi(name)
	if err != nil || n < 1 || n > 22 {
		return "", fmt.Errorf("invalid chromosome %q: want 1-22 or X", s)
	}
	return Chromosome(strconv.Itoa(n)), nil
}

// IsX reports whether c is the X chromosome.
func (c Chromosome) IsX() bool { return c == X }

// Contig returns the UCSC-style contig name, e.g. "chr21".
func (c Chromosome) Contig() string { return "chr" + string(c) }

func (c Chromosome) String() string { return c.Contig() }

// rank orders autosomes numerically with X last.
func (c Chromosome) rank() int {
	if c.IsX() {
		return 23
	}
	n, _ := strconv.Atoi(string(c))
	return n
}

// Less orders chromosomes 1..22 then X.
func (c Chromosome) Less(o Chromosome) bool { return c.rank() < o.rank() }

// ParseChromosomeSet parses a comma-separated list of chromosomes and ranges,
// e.g. "1-22,X" or "20,21". The result is sorted and deduplicated.
func ParseChromosomeSet(s string) ([]Chromosome, error) {
	seen := make(map[Chromosome]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			c, err := ParseChromosome(part)
			if err != nil {
				return nil, err
			}
			seen[c] = struct{}{}
			continue
		}
		from, err := ParseChromosome(lo)
		if err != nil {
			return nil, err
		}
		to, err := ParseChromosome(hi)
		if err != nil {
			return nil, err
		}
		if from.IsX() || to.IsX() || to.rank() < from.rank() {
			return nil, fmt.Errorf("invalid chromosome range %q", part)
		}
		for i := from.rank(); i <= to.rank(); i++ {
			seen[Chromosome(strconv.Itoa(i))] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("empty chromosome set %q", s)
	}
	out := make([]Chromosome, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

// Region is a closed, 1-based interval on a contig as written in chunk files
// and passed to tools (contig:start-end).
type Region struct {
	Contig string
	Start  int64
	End    int64
}

// ParseRegion parses "chr21:16000001-17000000". Thousands separators are
// tolerated.
func ParseRegion(s string) (Region, error) {
	contig, span, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || contig == "" {
		return Region{}, fmt.Errorf("invalid region %q: missing contig", s)
	}
	lo, hi, ok := strings.Cut(span, "-")
	if !ok {
		return Region{}, fmt.Errorf("invalid region %q: missing end", s)
	}
	start, err := parsePos(lo)
	if err != nil {
		return Region{}, fmt.Errorf("invalid region %q: %w", s, err)
	}
	end, err := parsePos(hi)
	if err != nil {
		return Region{}, fmt.Errorf("invalid region %q: %w", s, err)
	}
	return NewRegion(contig, start, end)
}

// NewRegion validates and builds a region.
func NewRegion(contig string, start, end int64) (Region, error) {
	if start < 1 || end < start {
		return Region{}, fmt.Errorf("invalid interval %s:%d-%d", contig, start, end)
	}
	return Region{Contig: contig, Start: start, End: end}, nil
}

func parsePos(s string) (int64, error) {
	return strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 10, 64)
}

func (r Region) String() string {
	if r.IsWholeContig() {
		return r.Contig
	}
	return fmt.Sprintf("%s:%d-%d", r.Contig, r.Start, r.End)
}

// WholeContig returns a region spanning all of contig.
func WholeContig(contig string) Region { return Region{Contig: contig} }

// IsWholeContig reports whether r carries no coordinates.
func (r Region) IsWholeContig() bool { return r.Start == 0 && r.End == 0 }

// Overlaps reports whether both regions share at least one position.
func (r Region) Overlaps(o Region) bool {
	return r.Contig == o.Contig && r.Start <= o.End && o.Start <= r.End
}

// Contains reports whether o lies entirely within r.
func (r Region) Contains(o Region) bool {
	return r.Contig == o.Contig && r.Start <= o.Start && o.End <= r.End
}

// ChromosomeOf maps a contig name back to its chromosome.
func ChromosomeOf(contig string) (Chromosome, error) {
	return ParseChromosome(contig)
}
